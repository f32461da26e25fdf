package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/1ureka/dprox/internal/transport"
	"github.com/1ureka/dprox/internal/util"
)

// readRetryDelay throttles a reader that keeps failing on a transient error.
const readRetryDelay = 50 * time.Millisecond

// bufPool recycles receive buffers. A buffer is returned only after its
// handler has finished with it.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, transport.MaxDatagramSize)
		return &b
	},
}

// event is one unit of work handed from a reader to the loop.
type event struct {
	bp   *[]byte
	n    int
	from netip.AddrPort
}

func (e event) data() []byte { return (*e.bp)[:e.n] }

// loop is the duplex pump shared by both roles. Two reader goroutines block
// on the device and the socket and hand each read to a single consumer over
// unbuffered channels, so handlers never interleave and nothing is queued.
type loop struct {
	dev  Device
	conn Conn

	onDevice func(pkt []byte) error
	onSocket func(buf []byte, from netip.AddrPort) error
}

// run pumps until ctx is cancelled or an endpoint fails for good. Both
// endpoints are closed before it returns.
func (l *loop) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	devCh := make(chan event)
	sockCh := make(chan event)
	fatal := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.readDevice(ctx, devCh, fatal)
	}()
	go func() {
		defer wg.Done()
		l.readSocket(ctx, sockCh, fatal)
	}()

	defer func() {
		cancel()
		// Closing is what unblocks the readers.
		_ = l.dev.Close()
		_ = l.conn.Close()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-fatal:
			return err

		case ev := <-devCh:
			report("device", l.onDevice(ev.data()))
			bufPool.Put(ev.bp)

		case ev := <-sockCh:
			report("socket", l.onSocket(ev.data(), ev.from))
			bufPool.Put(ev.bp)
		}
	}
}

func (l *loop) readDevice(ctx context.Context, out chan<- event, fatal chan<- error) {
	for {
		bp := bufPool.Get().(*[]byte)
		n, err := l.dev.Read(*bp)
		if err != nil {
			bufPool.Put(bp)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				fatal <- fmt.Errorf("device closed: %w", err)
				return
			}
			util.LogWarning("device read error: %v", err)
			if !sleepCtx(ctx, readRetryDelay) {
				return
			}
			continue
		}
		if n == 0 {
			bufPool.Put(bp)
			continue
		}

		select {
		case out <- event{bp: bp, n: n}:
		case <-ctx.Done():
			bufPool.Put(bp)
			return
		}
	}
}

func (l *loop) readSocket(ctx context.Context, out chan<- event, fatal chan<- error) {
	for {
		bp := bufPool.Get().(*[]byte)
		n, from, err := l.conn.Recv(*bp)
		if err != nil {
			bufPool.Put(bp)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, os.ErrClosed) {
				fatal <- fmt.Errorf("socket closed: %w", err)
				return
			}
			util.LogWarning("socket receive error: %v", err)
			if !sleepCtx(ctx, readRetryDelay) {
				return
			}
			continue
		}

		select {
		case out <- event{bp: bp, n: n, from: from}:
		case <-ctx.Done():
			bufPool.Put(bp)
			return
		}
	}
}

// sleepCtx waits for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
