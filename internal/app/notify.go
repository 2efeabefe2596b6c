package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "larder/pkg/logx"
)

// sdNotify reports a state change to systemd. Outside systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
