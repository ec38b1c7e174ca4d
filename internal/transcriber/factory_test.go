package transcriber

import (
	"context"
	"testing"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

func TestNew_TransportVariant(t *testing.T) {
	for _, def := range provider.List() {
		t.Run(def.ID, func(t *testing.T) {
			opts := testOptions()
			opts.EndpointID = "ep-123"
			conn := New(def, opts)
			if conn.ID() != def.ID {
				t.Errorf("ID() = %q, want %q", conn.ID(), def.ID)
			}
			if conn.State() != StateDisconnected {
				t.Errorf("state = %s, want disconnected", conn.State())
			}

			switch def.Transport {
			case provider.TransportUpload:
				if _, ok := conn.(*UploadConnection); !ok {
					t.Errorf("got %T, want *UploadConnection", conn)
				}
			case provider.TransportStream:
				if _, ok := conn.(*StreamConnection); !ok {
					t.Errorf("got %T, want *StreamConnection", conn)
				}
			case provider.TransportPeer:
				if _, ok := conn.(*PeerConnection); !ok {
					t.Errorf("got %T, want *PeerConnection", conn)
				}
			}
		})
	}
}

func TestNew_MissingKeyFailsOnStart(t *testing.T) {
	def := provider.MustGet(provider.IDDeepgramNova)
	opts := testOptions()
	opts.APIKey = ""

	conn := New(def, opts)
	err := conn.Start(context.Background())
	if !IsFatal(err) || !apperr.IsCode(err, apperr.CodeAPIKeyNotConfigured) {
		t.Fatalf("Start() error = %v, want fatal API_KEY_NOT_CONFIGURED", err)
	}
	if conn.State() != StateFailed {
		t.Errorf("state = %s, want failed", conn.State())
	}

	ev := nextEvent(t, conn.Events())
	if !ev.IsError() || !ev.Fatal || ev.Error.ProviderID != def.ID {
		t.Errorf("event = %+v, want fatal error for %s", ev, def.ID)
	}
	_ = conn.Stop(context.Background())
}

func TestNew_KeylessProviderStarts(t *testing.T) {
	def := provider.MustGet(provider.IDFasterWhisperLocal)
	opts := testOptions()
	opts.APIKey = ""

	conn := New(def, opts)
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestNew_RunpodWithoutEndpointID(t *testing.T) {
	def := provider.MustGet(provider.IDRunpodKotoba)
	conn := New(def, testOptions())

	err := conn.Start(context.Background())
	if !IsFatal(err) {
		t.Fatalf("Start() error = %v, want fatal configuration error", err)
	}
	_ = conn.Stop(context.Background())
}

func TestNew_UnknownAdapter(t *testing.T) {
	def := provider.Definition{ID: "mystery", Adapter: "carrier-pigeon", Transport: provider.TransportUpload}
	conn := New(def, testOptions())

	err := conn.Start(context.Background())
	if !IsFatal(err) {
		t.Fatalf("Start() error = %v, want fatal", err)
	}
	_ = conn.Stop(context.Background())
}

func TestNew_EndpointOverride(t *testing.T) {
	def := provider.MustGet(provider.IDDeepgramNova)
	opts := testOptions()
	opts.Endpoint = &provider.EndpointConfig{BaseURL: "ws://localhost:9999", Path: "/listen"}

	conn := New(def, opts).(*StreamConnection)
	url, _, err := conn.proto.Dial()
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if want := "ws://localhost:9999/listen?"; len(url) < len(want) || url[:len(want)] != want {
		t.Errorf("url = %q, want prefix %q", url, want)
	}
}
