package sds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func wordsOf(vals ...uint16) []byte {
	out := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		out = append(out, byte(v), byte(v>>8))
	}
	return out
}

func TestRoundTripSingleReader(t *testing.T) {
	s, err := New(2, 16, 1)
	require.NoError(t, err)

	r, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)

	w, err := s.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)

	payload := wordsOf(1, 2, 3, 4, 5)
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestReaderWouldBlockWhenCaughtUp(t *testing.T) {
	s, err := New(2, 8, 1)
	require.NoError(t, err)
	r, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestOverrunOnSlowReader(t *testing.T) {
	s, err := New(2, 4, 1) // 4-word ring
	require.NoError(t, err)
	r, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	w, err := s.CreateWriter(NonBlockable, false)
	require.NoError(t, err)

	// Write 10 words into a 4-word ring without the reader consuming
	// anything: writeStartCursor=10, dataSize=4, so any reader cursor
	// below 6 has been overwritten.
	_, err = w.Write(wordsOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9))
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.ErrorIs(t, err, ErrOverrun)
}

func TestNonBlockingWriterPartialWrite(t *testing.T) {
	s, err := New(2, 4, 1)
	require.NoError(t, err)
	_, err = s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	w, err := s.CreateWriter(NonBlocking, false)
	require.NoError(t, err)

	n, err := w.Write(wordsOf(1, 2, 3, 4, 5, 6)) // 6 words into 4-word ring, reader at 0
	require.NoError(t, err)
	require.Equal(t, 4*2, n) // only 4 words fit before overrunning the reader at cursor 0
}

func TestAllOrNothingFailsWhenWouldOverrun(t *testing.T) {
	s, err := New(2, 4, 1)
	require.NoError(t, err)
	_, err = s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	w, err := s.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2, 3, 4, 5))
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestForceReplaceWriterMakesPriorInert(t *testing.T) {
	s, err := New(2, 4, 1)
	require.NoError(t, err)

	w1, err := s.CreateWriter(NonBlockable, false)
	require.NoError(t, err)

	_, err = s.CreateWriter(NonBlockable, true)
	require.NoError(t, err)

	_, err = w1.Write(wordsOf(1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestCreateWriterRejectsSecondWithoutForce(t *testing.T) {
	s, err := New(2, 4, 1)
	require.NoError(t, err)
	_, err = s.CreateWriter(NonBlockable, false)
	require.NoError(t, err)
	_, err = s.CreateWriter(NonBlockable, false)
	require.Error(t, err)
}

func TestMultipleReadersIndependentCursors(t *testing.T) {
	s, err := New(2, 16, 2)
	require.NoError(t, err)
	r1, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	r2, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	w, err := s.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)

	payload := wordsOf(10, 20, 30)
	_, err = w.Write(payload)
	require.NoError(t, err)

	buf1 := make([]byte, 2)
	_, err = r1.Read(buf1)
	require.NoError(t, err)
	require.Equal(t, wordsOf(10), buf1)

	buf2 := make([]byte, 6)
	_, err = r2.Read(buf2)
	require.NoError(t, err)
	require.Equal(t, payload, buf2)
}

func TestWriterCloseThenReaderDrainsThenClosed(t *testing.T) {
	s, err := New(2, 8, 1)
	require.NoError(t, err)
	r, err := s.CreateReader(-1, ReaderNonBlocking, false, false)
	require.NoError(t, err)
	w, err := s.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2))
	require.NoError(t, err)
	require.NoError(t, w.Close(0, RefEnd))

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = r.Read(buf)
	require.ErrorIs(t, err, ErrClosed)
}

func TestReaderSeekStartWithNewData(t *testing.T) {
	s, err := New(2, 16, 1)
	require.NoError(t, err)
	w, err := s.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)
	_, err = w.Write(wordsOf(1, 2, 3))

	r, err := s.CreateReader(-1, ReaderNonBlocking, true, false)
	require.NoError(t, err)
	pos, err := r.Tell(RefStart)
	require.NoError(t, err)
	require.Equal(t, int64(3), pos)

	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}
