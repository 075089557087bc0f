package client

import (
	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/clockmgr"
	"github.com/nimbusvoice/aiaclient/speaker"
	"github.com/nimbusvoice/aiaclient/ux"
)

// Host is every capability the embedding application must supply: the
// audio renderer, the offline alert player, the settable volume and
// the settable clock. None of these concerns belong to the client
// itself, which only brokers the session with the service.
type Host interface {
	speaker.Renderer
	alert.Player
	ux.VolumeHost
	clockmgr.HostClock
}
