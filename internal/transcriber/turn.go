package transcriber

import "strings"

// turn collects the finalized segments of one utterance until the vendor
// signals the end of the turn.
type turn struct {
	parts   []string
	speaker string
	closed  string // text of the last flushed turn
}

func (t *turn) add(text, speaker string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.parts = append(t.parts, text)
	if speaker != "" {
		t.speaker = speaker
	}
}

// text joins the segments, followed by extra when it is not empty.
func (t *turn) text(extra string) string {
	parts := t.parts
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts[:len(parts):len(parts)], extra)
	}
	return strings.Join(parts, " ")
}

func (t *turn) reset() {
	t.parts = nil
	t.speaker = ""
}

// dispatch applies one decoded vendor message to the connection.
func (b *base) dispatch(t *turn, msg Inbound) {
	switch msg.Kind {
	case InboundPartial:
		b.emitTranscript(t.text(msg.Text), msg.Speaker, false, 0)

	case InboundSegment:
		t.add(msg.Text, msg.Speaker)
		b.emitTranscript(t.text(""), msg.Speaker, false, 0)

	case InboundTurnEnd:
		if msg.Echo && len(t.parts) == 0 && strings.TrimSpace(msg.Text) == t.closed {
			b.log.Debug().Str("text", t.closed).Msg("transcriber: duplicate final suppressed")
			return
		}
		t.add(msg.Text, msg.Speaker)
		b.flushTurn(t)

	case InboundError:
		if msg.Fatal {
			b.fail(NewFatalError(msg.Err))
			return
		}
		b.log.Warn().Err(msg.Err).Msg("transcriber: vendor error")
		b.emitError(msg.Err)
	}
}

// flushTurn emits the accumulated turn as one final.
func (b *base) flushTurn(t *turn) {
	text, speaker := t.text(""), t.speaker
	t.reset()
	t.closed = text
	if text != "" {
		b.emitTranscript(text, speaker, true, b.sinceAudio())
		b.endTurn()
	}
	b.signalFinal()
}
