package migration

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/testutil"
)

var (
	keyA = testutil.Key(0xA)
	keyB = testutil.Key(0xB)
	keyC = testutil.Key(0xC)
)

func boxes(names ...string) []enc.RecipientBox {
	out := make([]enc.RecipientBox, len(names))
	for i, n := range names {
		out[i] = enc.RecipientBox(n)
	}
	return out
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestPair(t *testing.T) {
	tests := []struct {
		name      string
		local     []enc.PublicKey
		sender    enc.PublicKey
		addresses []enc.PublicKey
		boxes     []enc.RecipientBox
		wantKeys  []enc.PublicKey
		wantBoxes []enc.RecipientBox
	}{
		{
			name:      "local sender keeps every address in canonical order",
			local:     []enc.PublicKey{keyA},
			sender:    keyA,
			addresses: []enc.PublicKey{keyC, keyA, keyB},
			boxes:     boxes("box1", "box2", "box3"),
			wantKeys:  []enc.PublicKey{keyA, keyB, keyC},
			wantBoxes: boxes("box1", "box2", "box3"),
		},
		{
			name:      "recipient keeps only its own addresses",
			local:     []enc.PublicKey{keyB},
			sender:    keyA,
			addresses: []enc.PublicKey{keyA, keyB, keyC},
			boxes:     boxes("boxB"),
			wantKeys:  []enc.PublicKey{keyB},
			wantBoxes: boxes("boxB"),
		},
		{
			name:      "duplicate addresses count once",
			local:     []enc.PublicKey{keyC},
			sender:    keyA,
			addresses: []enc.PublicKey{keyC, keyC},
			boxes:     boxes("boxC"),
			wantKeys:  []enc.PublicKey{keyC},
			wantBoxes: boxes("boxC"),
		},
		{
			name:      "local sender with duplicate addresses",
			local:     []enc.PublicKey{keyA},
			sender:    keyA,
			addresses: []enc.PublicKey{keyB, keyA, keyB},
			boxes:     boxes("box1", "box2"),
			wantKeys:  []enc.PublicKey{keyA, keyB},
			wantBoxes: boxes("box1", "box2"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			got := NewRecipientBoxHelper(tt.local).Pair(tt.sender, tt.addresses, tt.boxes)
			assert.Equal(t, tt.wantKeys, got.Keys)
			assert.Equal(t, tt.wantBoxes, got.Boxes)
			assert.Empty(t, logs.String())
		})
	}
}

func TestPair_CountMismatchWarns(t *testing.T) {
	logs := captureLogs(t)
	h := NewRecipientBoxHelper([]enc.PublicKey{keyA})

	got := h.Pair(keyA, []enc.PublicKey{keyB, keyC, keyA}, boxes("box1", "box2"))
	assert.Equal(t, []enc.PublicKey{keyA, keyB}, got.Keys)
	assert.Equal(t, boxes("box1", "box2"), got.Boxes)
	assert.Contains(t, logs.String(), "recipient and box counts differ")
	assert.Contains(t, logs.String(), "recipients=3")
	assert.Contains(t, logs.String(), "boxes=2")

	logs.Reset()
	got = h.Pair(keyA, []enc.PublicKey{keyA}, boxes("box1", "box2"))
	assert.Equal(t, []enc.PublicKey{keyA}, got.Keys)
	assert.Equal(t, boxes("box1"), got.Boxes)
	assert.Contains(t, logs.String(), "recipient and box counts differ")
}

func TestPairing_Lookup(t *testing.T) {
	p := Pairing{Keys: []enc.PublicKey{keyA, keyB}, Boxes: boxes("boxA", "boxB")}

	box, ok := p.BoxFor(keyB)
	assert.True(t, ok)
	assert.Equal(t, enc.RecipientBox("boxB"), box)
	_, ok = p.BoxFor(keyC)
	assert.False(t, ok)

	assert.Equal(t, map[enc.PublicKey]enc.RecipientBox{
		keyA: enc.RecipientBox("boxA"),
		keyB: enc.RecipientBox("boxB"),
	}, p.Map())
}
