package serial

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T, timeout time.Duration) (*os.File, *Port) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := DefaultConfig()
	cfg.Device = slave.Name()
	cfg.ReadTimeout = timeout
	port, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	return master, port
}

type readResult struct {
	line []byte
	err  error
}

func readAsync(p *Port) <-chan readResult {
	out := make(chan readResult, 1)
	go func() {
		line, err := p.ReadLine()
		out <- readResult{line, err}
	}()
	return out
}

func TestPort_BasicRead(t *testing.T) {
	master, port := openPTY(t, time.Second)

	_, err := master.Write([]byte("hello\r\n"))
	require.NoError(t, err)

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello\r\n", string(line))
	assert.Equal(t, "hello", Decode(line))
}

func TestPort_ChatMasterSlave(t *testing.T) {
	master, port := openPTY(t, time.Second)

	fromSlave := make(chan string, 1)
	go func() {
		buf := make([]byte, 128)
		n, err := master.Read(buf)
		if err != nil {
			return
		}
		fromSlave <- string(buf[:n])
	}()

	// 1. Master writes, Port should receive
	_, err := master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case res := <-readAsync(port):
		require.NoError(t, res.err)
		require.Equal(t, "ping\n", string(res.line))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for slave to receive from master")
	}

	// 2. Port writes, master should receive
	require.NoError(t, port.WriteLine("pong", "\n"))

	select {
	case msg := <-fromSlave:
		require.Equal(t, "pong\n", msg)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for master to receive from slave")
	}
}

func TestPort_WriteLine(t *testing.T) {
	master, port := openPTY(t, time.Second)

	line := "testline"
	newline := "\r\n"
	require.NoError(t, port.WriteLine(line, newline))

	buf := make([]byte, len(line)+len(newline))
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(line)+len(newline), n)
	require.Equal(t, line+newline, string(buf))
}

func TestPort_TimeoutWithNoData(t *testing.T) {
	_, port := openPTY(t, 50*time.Millisecond)

	start := time.Now()
	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Empty(t, line)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPort_TimeoutReturnsPartialLine(t *testing.T) {
	master, port := openPTY(t, 100*time.Millisecond)

	_, err := master.Write([]byte("abc"))
	require.NoError(t, err)

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(line))
}

func TestPort_KeepsBytesPastDelimiter(t *testing.T) {
	master, port := openPTY(t, 200*time.Millisecond)

	_, err := master.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)

	var got []string
	for deadline := time.Now().Add(2 * time.Second); len(got) < 3 && time.Now().Before(deadline); {
		line, err := port.ReadLine()
		require.NoError(t, err)
		if len(line) > 0 {
			got = append(got, string(line))
		}
	}

	assert.Equal(t, []string{"one\n", "two\n", "thr"}, got)
}

func TestPort_Killability(t *testing.T) {
	_, port := openPTY(t, 0)

	result := readAsync(port)

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, port.Close())

	select {
	case res := <-result:
		require.ErrorIs(t, res.err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ReadLine to return after Close")
	}

	// Should be a no-op due to closeOnce
	require.NoError(t, port.Close())
}

func TestPort_ErrorPropagation(t *testing.T) {
	master, port := openPTY(t, time.Second)

	result := readAsync(port)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	select {
	case res := <-result:
		require.Error(t, res.err)
		assert.NotErrorIs(t, res.err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestOpen_Failures(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing device", Config{Device: "/dev/does-not-exist", BaudRate: 9600, Delimiter: "\n"}},
		{"no device", Config{BaudRate: 9600, Delimiter: "\n"}},
		{"unsupported baud", Config{Device: os.DevNull, BaudRate: 12345, Delimiter: "\n"}},
		{"not a tty", Config{Device: os.DevNull, BaudRate: 9600, Delimiter: "\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := Open(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, port)
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_OverPTY(t *testing.T) {
	master, port := openPTY(t, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- Run(ctx, port, &out) }()

	_, err := master.Write([]byte("hello\r\n   \n\xff\xfehi\n"))
	require.NoError(t, err)

	want := "Received: hello\nReceived: hi\n"
	require.Eventually(t, func() bool {
		return out.String() == want
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
