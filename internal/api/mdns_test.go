package api

import (
	"slices"
	"testing"
)

func TestMDNSTXT(t *testing.T) {
	txt := mdnsTXT("ACS ACR122U PICC Interface")

	for _, want := range []string{"path=/v1/ws", "protocol=websocket", "reader=ACS ACR122U PICC Interface"} {
		if !slices.Contains(txt, want) {
			t.Errorf("TXT records %v missing %q", txt, want)
		}
	}
}

func TestAdvertiser_ShutdownNil(t *testing.T) {
	var a *Advertiser
	a.Shutdown()
	(&Advertiser{}).Shutdown()
}
