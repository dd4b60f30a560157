package conversation

import (
	"context"
	"errors"
	"testing"
)

func TestMock(t *testing.T) {
	t.Run("connect, send and close", func(t *testing.T) {
		m := NewMock()

		if err := m.SendAudio([]int16{1}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if err := m.Connect(context.Background(), "wss://signed"); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if m.SignedURL != "wss://signed" {
			t.Errorf("SignedURL = %q", m.SignedURL)
		}
		if err := m.SendAudio([]int16{1, 2}); err != nil {
			t.Errorf("send audio failed: %v", err)
		}
		if m.FramesSent() != 1 {
			t.Errorf("FramesSent = %d", m.FramesSent())
		}

		var infos []CloseInfo
		m.OnClose(func(info CloseInfo) { infos = append(infos, info) })

		_ = m.Close()
		_ = m.Close()

		if len(infos) != 1 || !infos[0].Normal() || !infos[0].Local {
			t.Errorf("close callbacks = %+v, want one local 1000", infos)
		}
		if m.Closes() != 2 {
			t.Errorf("Closes = %d", m.Closes())
		}
		if err := m.Connect(context.Background(), "again"); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("reconnect err = %v", err)
		}
	})

	t.Run("simulate events", func(t *testing.T) {
		m := NewMock()

		var got []Event
		m.OnEvent(func(ev Event) { got = append(got, ev) })

		m.SimulateMetadata("conv_1")
		m.SimulateAudio([]int16{1})
		m.SimulateInterruption()

		if len(got) != 3 {
			t.Fatalf("got %d events", len(got))
		}
		if got[0].Type() != TypeMetadata || got[1].Type() != TypeAudio || got[2].Type() != TypeInterruption {
			t.Errorf("unexpected order %v", got)
		}
	})
}
