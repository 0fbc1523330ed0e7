package servermgr

import "errors"

// Error taxonomy kinds from §7: callers classify with errors.Is.
var (
	ErrNoServerForExtension = errors.New("servermgr: no server configured for this extension")
	ErrSpawn                = errors.New("servermgr: failed to spawn peer")
	ErrInitTimeout          = errors.New("servermgr: initialization timed out")
	ErrPeerExit             = errors.New("servermgr: peer exited")
	ErrNotRunning           = errors.New("servermgr: no servers running")
)
