package vision

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/faceclari/internal/codec"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/andresmejia3/faceclari/internal/utils" // Using the SafeCommand wrapper
	"go.uber.org/zap"
)

// ErrWorker wraps failures reported by the Python side of the protocol.
var ErrWorker = errors.New("python worker error")

// ErrNoWorkers is returned once every worker has died and none could be restarted.
var ErrNoWorkers = errors.New("no vision workers left")

const (
	opDetect byte = 1
	opEmbed  byte = 2

	statusOK    byte = 0
	statusError byte = 1

	// Guards against garbage length headers allocating gigabytes.
	maxResponseLen = 64 * 1024 * 1024
)

// PythonConfig configures the worker processes behind PythonProvider.
type PythonConfig struct {
	Script      string        // path to worker.py
	Model       string        // hog or cnn
	Engines     int           // number of processes in the pool
	ReadTimeout time.Duration // per request; 0 disables
}

// PythonWorker is one python3 process speaking the length-prefixed protocol.
// Requests go to Stdin, responses come back on a side-channel pipe (FD 3) so the
// Python side can print freely to stdout/stderr.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonWorker starts one worker process.
func NewPythonWorker(id int, cfg PythonConfig) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand("python3", "-u", cfg.Script, "--model", cfg.Model)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import crash on the Python side
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseLen {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect asks the worker for face locations.
func (w *PythonWorker) Detect(img image.Image) ([]types.Box, error) {
	resp, err := w.Communicate(encodeRequest(opDetect, img, nil))
	if err != nil {
		return nil, err
	}
	return decodeDetect(resp)
}

// Embed asks the worker for one embedding per box.
func (w *PythonWorker) Embed(img image.Image, boxes []types.Box) ([]types.Embedding, error) {
	resp, err := w.Communicate(encodeRequest(opEmbed, img, boxes))
	if err != nil {
		return nil, err
	}
	embs, err := decodeEmbed(resp)
	if err != nil {
		return nil, err
	}
	if len(embs) != len(boxes) {
		return nil, fmt.Errorf("%w: returned %d embeddings for %d boxes", ErrWorker, len(embs), len(boxes))
	}
	return embs, nil
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Kill stops the process without waiting for it to drain its input.
// A worker that stopped answering would otherwise block Close forever.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()
}

// encodeRequest lays out [op][w][h][nbox][box i32x4]*[RGB pixels].
func encodeRequest(op byte, img image.Image, boxes []types.Box) []byte {
	rgba := codec.ToRGBA(img)
	b := rgba.Bounds()
	width, height := b.Dx(), b.Dy()

	buf := new(bytes.Buffer)
	buf.Grow(13 + len(boxes)*16 + width*height*3)
	buf.WriteByte(op)
	binary.Write(buf, binary.BigEndian, uint32(width))
	binary.Write(buf, binary.BigEndian, uint32(height))
	binary.Write(buf, binary.BigEndian, uint32(len(boxes)))
	for _, box := range boxes {
		binary.Write(buf, binary.BigEndian, [4]int32{int32(box.Top), int32(box.Right), int32(box.Bottom), int32(box.Left)})
	}

	// Python expects packed RGB rows, no alpha.
	row := make([]byte, width*3)
	for y := 0; y < height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		for x := 0; x < width; x++ {
			row[x*3] = src[x*4]
			row[x*3+1] = src[x*4+1]
			row[x*3+2] = src[x*4+2]
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

// readStatus consumes the status byte and turns an error status into ErrWorker.
func readStatus(r *bytes.Reader) error {
	status, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("empty response: %w", err)
	}
	switch status {
	case statusOK:
		return nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return fmt.Errorf("%w: malformed error frame", ErrWorker)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return fmt.Errorf("%w: truncated error frame", ErrWorker)
		}
		return fmt.Errorf("%w: %s", ErrWorker, msg)
	default:
		return fmt.Errorf("unknown status byte %d", status)
	}
}

func decodeDetect(resp []byte) ([]types.Box, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed detect response: %w", err)
	}
	if int64(n)*16 > int64(r.Len()) {
		return nil, fmt.Errorf("malformed detect response: %d boxes, %d bytes left", n, r.Len())
	}
	boxes := make([]types.Box, n)
	for i := range boxes {
		var loc [4]int32
		if err := binary.Read(r, binary.BigEndian, &loc); err != nil {
			return nil, fmt.Errorf("malformed detect response: %w", err)
		}
		boxes[i] = types.Box{Top: int(loc[0]), Right: int(loc[1]), Bottom: int(loc[2]), Left: int(loc[3])}
	}
	return boxes, nil
}

func decodeEmbed(resp []byte) ([]types.Embedding, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}
	var n, dim uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed embed response: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("malformed embed response: %w", err)
	}
	if n > 0 && dim == 0 {
		return nil, fmt.Errorf("malformed embed response: %d zero-length embeddings", n)
	}
	if int64(n)*int64(dim)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("malformed embed response: %dx%d floats, %d bytes left", n, dim, r.Len())
	}
	embs := make([]types.Embedding, n)
	raw := make([]float32, dim)
	for i := range embs {
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("malformed embed response: %w", err)
		}
		e := make(types.Embedding, dim)
		for j, v := range raw {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("worker returned NaN in embedding %d", i)
			}
			e[j] = float64(v)
		}
		embs[i] = e
	}
	return embs, nil
}

// PythonProvider is a pool of PythonWorkers. Each request checks a worker out,
// so concurrency is bounded by the pool size.
type PythonProvider struct {
	cfg    PythonConfig
	log    *zap.Logger
	start  func(id int, cfg PythonConfig) (*PythonWorker, error)
	pool   chan *PythonWorker
	dead   chan struct{} // closed when live drops to zero
	mu     sync.Mutex
	nextID int
	live   int
	closed bool
}

// NewPythonProvider starts cfg.Engines worker processes.
func NewPythonProvider(cfg PythonConfig, log *zap.Logger) (*PythonProvider, error) {
	if cfg.Engines < 1 {
		cfg.Engines = 1
	}
	p := &PythonProvider{
		cfg:   cfg,
		log:   log,
		start: NewPythonWorker,
		pool:  make(chan *PythonWorker, cfg.Engines),
		dead:  make(chan struct{}),
	}
	for i := 0; i < cfg.Engines; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.pool <- w
		p.live++
	}
	return p, nil
}

func (p *PythonProvider) spawn() (*PythonWorker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	start := p.start
	p.mu.Unlock()
	if start == nil {
		start = NewPythonWorker
	}
	return start(id, p.cfg)
}

func (p *PythonProvider) acquire(ctx context.Context) (*PythonWorker, error) {
	select {
	case w := <-p.pool:
		return w, nil
	case <-p.dead:
		return nil, ErrNoWorkers
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a worker to the pool. A worker whose pipe failed is killed
// and replaced, because its stream position is no longer trustworthy.
// Workers released after Close are stopped instead of pooled.
func (p *PythonProvider) release(w *PythonWorker, err error) {
	healthy := err == nil || errors.Is(err, ErrWorker)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if healthy {
			w.Close()
		} else {
			w.Kill()
		}
		return
	}
	if healthy {
		p.pool <- w
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	w.Kill()
	p.log.Warn("vision worker died, restarting",
		zap.Int("worker", w.ID), zap.Error(err), zap.String("logs", w.Cmd.Logs()))

	replacement, spawnErr := p.spawn()

	p.mu.Lock()
	if spawnErr != nil {
		p.log.Error("failed to restart vision worker", zap.Error(spawnErr))
		p.live--
		if p.live == 0 {
			close(p.dead)
		}
		p.mu.Unlock()
		return // pool shrinks; remaining workers keep serving
	}
	if p.closed {
		p.mu.Unlock()
		replacement.Close()
		return
	}
	p.pool <- replacement
	p.mu.Unlock()
}

func (p *PythonProvider) Detect(ctx context.Context, img image.Image) ([]types.Box, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	boxes, err := w.Detect(img)
	p.release(w, err)
	return boxes, err
}

func (p *PythonProvider) Embed(ctx context.Context, img image.Image, boxes []types.Box) ([]types.Embedding, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	embs, err := w.Embed(img, boxes)
	p.release(w, err)
	return embs, err
}

// Close stops every idle worker. Workers still checked out are stopped when
// their request returns.
func (p *PythonProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.live > 0 && p.dead != nil {
		p.live = 0
		close(p.dead) // waiting callers get ErrNoWorkers
	}
	for {
		select {
		case w := <-p.pool:
			w.Close()
		default:
			return nil
		}
	}
}
