package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)

	_, err = w.Append(OpInsertNoun, map[string]any{"id": "n1"})
	require.NoError(t, err)
	_, err = w.Append(OpInsertVerb, map[string]any{"id": "v1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var ops []Operation
	err = Replay(dir, func(e WALEntry) error {
		ops = append(ops, e.Operation)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Operation{OpInsertNoun, OpInsertVerb}, ops)
}

func TestWALSequenceResumesAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	seq1, err := w.Append(OpInsertNoun, map[string]any{"id": "n1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	seq2, err := w2.Append(OpInsertNoun, map[string]any{"id": "n2"})
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	assert.Equal(t, seq1+1, seq2)
}

func TestReplayOnMissingDirIsNoop(t *testing.T) {
	err := Replay(t.TempDir()+"/does-not-exist", func(WALEntry) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
}

func TestWALResetTruncatesAndRestartsSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)

	_, err = w.Append(OpInsertNoun, map[string]any{"id": "n1"})
	require.NoError(t, err)
	require.NoError(t, w.Reset())

	var ops []Operation
	require.NoError(t, w.Close())
	err = Replay(dir, func(e WALEntry) error {
		ops = append(ops, e.Operation)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, ops, "reset must leave no entries for the next replay")

	w2, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	seq, err := w2.Append(OpInsertNoun, map[string]any{"id": "n2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq, "sequence should restart from zero after reset")
	require.NoError(t, w2.Close())
}

func TestWALAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{Dir: dir, SyncMode: SyncImmediate})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Append(OpInsertNoun, map[string]any{"id": "n1"})
	require.Error(t, err)
}
