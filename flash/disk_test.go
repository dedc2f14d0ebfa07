package flash_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softflash/blockdev"
	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/flash/hal/nor"
	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

const (
	testSize      = 64 << 10
	testPageSize  = 4096
	testBlockSize = 512
	testBPP       = testPageSize / testBlockSize
)

var testGeometry = flash.Geometry{
	PageSize:  testPageSize,
	BlockSize: testBlockSize,
	TotalSize: testSize,
	BusWidth:  1,
}

func newDisk(t *testing.T, opts ...flash.Option) (*flash.Disk, *nor.Chip) {
	t.Helper()
	chip := nor.New(testSize, testPageSize)
	opts = append([]flash.Option{flash.WithGeometry(testGeometry)}, opts...)
	d, err := flash.Open(chip, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d, chip
}

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func pattern(r *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(r.UintN(256))
	}
	return p
}

func TestDisk_ReadAfterWrite(t *testing.T) {
	d, _ := newDisk(t)
	count, err := d.BlockCount()
	if err != nil {
		t.Fatalf("BlockCount() error = %v", err)
	}

	r := rand.New(rand.NewPCG(1, 2))
	for lba := uint32(0); lba < count; lba++ {
		p := pattern(r, testBlockSize)
		if err := d.WriteBlocks(p, lba, 1); err != nil {
			t.Fatalf("WriteBlocks(%d) error = %v", lba, err)
		}
		if err := d.Flush(); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		out := make([]byte, testBlockSize)
		if err := d.ReadBlocks(out, lba, 1); err != nil {
			t.Fatalf("ReadBlocks(%d) error = %v", lba, err)
		}
		if !bytes.Equal(out, p) {
			t.Fatalf("block %d: read back differs from written payload", lba)
		}
	}
}

func TestDisk_PageCoalescing(t *testing.T) {
	for k := uint32(1); k <= testBPP; k++ {
		for _, split := range []bool{false, true} {
			name := fmt.Sprintf("k=%d/single", k)
			if split {
				name = fmt.Sprintf("k=%d/per-block", k)
			}
			t.Run(name, func(t *testing.T) {
				d, chip := newDisk(t)
				start := uint32(2*testBPP) + (testBPP-k)/2
				src := fill(int(k)*testBlockSize, 0x5A)

				if split {
					for i := uint32(0); i < k; i++ {
						b := src[i*testBlockSize : (i+1)*testBlockSize]
						if err := d.WriteBlocks(b, start+i, 1); err != nil {
							t.Fatalf("WriteBlocks() error = %v", err)
						}
					}
				} else if err := d.WriteBlocks(src, start, k); err != nil {
					t.Fatalf("WriteBlocks() error = %v", err)
				}
				if err := d.Sync(); err != nil {
					t.Fatalf("Sync() error = %v", err)
				}

				got := chip.Counters()
				if got.Erases != 1 || got.Programs != 1 {
					t.Errorf("erases = %d, programs = %d, want 1, 1",
						got.Erases, got.Programs)
				}
			})
		}
	}
}

func TestDisk_CrossPageFlushesFirst(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x01), 1, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if err := d.WriteBlocks(fill(testBlockSize, 0x02), testBPP+1, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}

	want := []nor.Event{
		{Op: nor.OpRead, Addr: 0, Len: testPageSize},
		{Op: nor.OpRead, Addr: 0, Len: testPageSize},
		{Op: nor.OpErase, Addr: 0, Len: testPageSize},
		{Op: nor.OpProgram, Addr: 0, Len: testPageSize},
		{Op: nor.OpRead, Addr: testPageSize, Len: testPageSize},
	}
	if diff := cmp.Diff(want, chip.Events()); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}
}

func TestDisk_UnmodifiedPageSkip(t *testing.T) {
	d, chip := newDisk(t)

	// Rewrite what the erased chip already holds.
	if err := d.WriteBlocks(fill(testPageSize, 0xFF), 0, testBPP); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	got := chip.Counters()
	if got.Erases != 0 || got.Programs != 0 {
		t.Errorf("erases = %d, programs = %d, want 0, 0", got.Erases, got.Programs)
	}
	if s := d.Stats(); s.Skipped != 1 || s.Flushes != 0 {
		t.Errorf("Stats() skipped = %d, flushes = %d, want 1, 0", s.Skipped, s.Flushes)
	}
}

func TestDisk_PreservesOtherBlocks(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 16; i++ {
		d, chip := newDisk(t)

		page := uint32(r.UintN(testSize / testPageSize))
		orig := pattern(r, testPageSize)
		chip.Load(page*testPageSize, orig)

		slot := uint32(r.UintN(testBPP))
		p := pattern(r, testBlockSize)
		if err := d.WriteBlocks(p, page*testBPP+slot, 1); err != nil {
			t.Fatalf("WriteBlocks() error = %v", err)
		}
		if err := d.Sync(); err != nil {
			t.Fatalf("Sync() error = %v", err)
		}

		want := append([]byte(nil), orig...)
		copy(want[slot*testBlockSize:], p)
		got := chip.Bytes()[page*testPageSize : (page+1)*testPageSize]
		if !bytes.Equal(got, want) {
			t.Fatalf("page %d slot %d: surrounding blocks changed", page, slot)
		}
	}
}

func TestDisk_FlushIdempotent(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x33), 5, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Flush(); err != nil {
			t.Fatalf("Flush() #%d error = %v", i, err)
		}
	}

	got := chip.Counters()
	if got.Erases != 1 || got.Programs != 1 {
		t.Errorf("erases = %d, programs = %d, want 1, 1", got.Erases, got.Programs)
	}
}

func TestDisk_Block3Scenario(t *testing.T) {
	d, chip := newDisk(t)

	r := rand.New(rand.NewPCG(5, 6))
	orig := pattern(r, testPageSize)
	chip.Load(0, orig)

	payload := fill(testBlockSize, 0xAA)
	if err := d.WriteBlocks(payload, 3, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}

	want := append([]byte(nil), orig...)
	copy(want[3*testBlockSize:], payload)

	// Before the flush the staged block is visible through the disk only.
	out := make([]byte, testPageSize)
	if err := d.ReadBlocks(out, 0, testBPP); err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Error("cached read does not reflect the staged block")
	}
	if raw := chip.Bytes()[:testPageSize]; !bytes.Equal(raw, orig) {
		t.Error("flash changed before flush")
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	raw := make([]byte, testPageSize)
	if err := chip.ReadAt(raw, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(raw, want) {
		t.Error("flash contents after flush differ from expected page")
	}
}

func TestDisk_UnknownID(t *testing.T) {
	chip := nor.New(testSize, testPageSize, nor.WithID(0xAB, 0xCD))

	if _, err := flash.Open(chip); !errors.Is(err, pkg.ErrNotIdentified) {
		t.Fatalf("Open() error = %v, want %v", err, pkg.ErrNotIdentified)
	}

	d := flash.New(chip)
	var idErr *jedec.UnknownIDError
	if err := d.Init(); !errors.As(err, &idErr) {
		t.Fatalf("Init() error = %v, want *jedec.UnknownIDError", err)
	}
	if idErr.ManufacturerID != 0xAB || idErr.DeviceID != 0xCD {
		t.Errorf("UnknownIDError = %02X:%02X, want AB:CD", idErr.ManufacturerID, idErr.DeviceID)
	}

	n, err := d.BlockCount()
	if n != 0 || !errors.Is(err, pkg.ErrNotIdentified) {
		t.Errorf("BlockCount() = %d, %v, want 0, %v", n, err, pkg.ErrNotIdentified)
	}
	if err := d.ReadBlocks(make([]byte, testBlockSize), 0, 1); !errors.Is(err, pkg.ErrNotIdentified) {
		t.Errorf("ReadBlocks() error = %v, want %v", err, pkg.ErrNotIdentified)
	}
	if got := d.BlockSize(); got != flash.DefaultBlockSize {
		t.Errorf("BlockSize() = %d, want %d", got, flash.DefaultBlockSize)
	}
}

func TestDisk_ProbedGeometry(t *testing.T) {
	chip := nor.New(512<<10, testPageSize, nor.WithID(0x1F, 0x12))
	d, err := flash.Open(chip)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	geo, err := d.Geometry()
	if err != nil {
		t.Fatalf("Geometry() error = %v", err)
	}
	want := flash.Geometry{PageSize: testPageSize, BlockSize: testBlockSize, TotalSize: 512 << 10, BusWidth: 4}
	if diff := cmp.Diff(want, geo); diff != "" {
		t.Errorf("Geometry() mismatch (-want +got):\n%s", diff)
	}
	if n, _ := d.BlockCount(); n != 1024 {
		t.Errorf("BlockCount() = %d, want 1024", n)
	}
}

func TestDisk_NoProberNoGeometry(t *testing.T) {
	d := flash.New(plainDriver{})
	if err := d.Init(); !errors.Is(err, pkg.ErrNotIdentified) {
		t.Errorf("Init() error = %v, want %v", err, pkg.ErrNotIdentified)
	}
}

// plainDriver is a Driver without Prober or Waiter.
type plainDriver struct{}

func (plainDriver) ReadAt(p []byte, off uint32) error  { return nil }
func (plainDriver) Erase(page uint32) error            { return nil }
func (plainDriver) Program(off uint32, p []byte) error { return nil }

func TestDisk_Timeout(t *testing.T) {
	chip := nor.New(testSize, testPageSize, nor.WithAsync(time.Millisecond))
	d, err := flash.Open(chip,
		flash.WithGeometry(testGeometry),
		flash.WithOpTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := d.WriteBlocks(fill(testBlockSize, 0x44), 0, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}

	chip.SetHang(true)
	if err := d.Sync(); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Sync() error = %v, want %v", err, pkg.ErrTimeout)
	}
	chip.SetHang(false)
	chip.Complete()
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() after recovery error = %v", err)
	}

	out := make([]byte, testBlockSize)
	if err := chip.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(out, fill(testBlockSize, 0x44)) {
		t.Error("block not committed after recovery")
	}
	if s := d.Stats(); s.Failures != 1 || s.Flushes != 1 {
		t.Errorf("Stats() failures = %d, flushes = %d, want 1, 1", s.Failures, s.Flushes)
	}
}

func TestDisk_AsyncDriver(t *testing.T) {
	chip := nor.New(testSize, testPageSize, nor.WithAsync(time.Millisecond))
	d, err := flash.Open(chip, flash.WithGeometry(testGeometry))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	src := fill(2*testPageSize, 0x12)
	if err := d.WriteBlocks(src, 0, 2*testBPP); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := chip.Bytes()[:2*testPageSize]; !bytes.Equal(got, src) {
		t.Error("async writes not committed")
	}
}

func TestDisk_EraseFailure(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x66), 0, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	chip.FailErase(pkg.ErrHardware)
	if err := d.Sync(); !errors.Is(err, pkg.ErrHardware) {
		t.Fatalf("Sync() error = %v, want %v", err, pkg.ErrHardware)
	}

	// The staged block is still readable from the cache.
	out := make([]byte, testBlockSize)
	if err := d.ReadBlocks(out, 0, 1); err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	if !bytes.Equal(out, fill(testBlockSize, 0x66)) {
		t.Error("staged block lost after failed flush")
	}

	chip.FailErase(nil)
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestDisk_RequestErrors(t *testing.T) {
	d, _ := newDisk(t)
	count, _ := d.BlockCount()

	tests := []struct {
		name  string
		write bool
		buf   []byte
		lba   uint32
		count uint32
		want  error
	}{
		{"read short buffer", false, make([]byte, testBlockSize), 0, 2, pkg.ErrBufferTooSmall},
		{"write short buffer", true, make([]byte, 100), 0, 1, pkg.ErrBufferTooSmall},
		{"read past end", false, make([]byte, 2*testBlockSize), count - 1, 2, pkg.ErrOutOfRange},
		{"write past end", true, make([]byte, testBlockSize), count, 1, pkg.ErrOutOfRange},
		{"read zero", false, nil, count + 5, 0, nil},
		{"write zero", true, nil, count + 5, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.write {
				err = d.WriteBlocks(tt.buf, tt.lba, tt.count)
			} else {
				err = d.ReadBlocks(tt.buf, tt.lba, tt.count)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDisk_ReadOnly(t *testing.T) {
	d, chip := newDisk(t, flash.WithReadOnly(true))

	if err := d.WriteBlocks(fill(testBlockSize, 0), 0, 1); !errors.Is(err, pkg.ErrReadOnly) {
		t.Errorf("WriteBlocks() error = %v, want %v", err, pkg.ErrReadOnly)
	}
	if err := d.ReadBlocks(make([]byte, testBlockSize), 0, 1); err != nil {
		t.Errorf("ReadBlocks() error = %v", err)
	}
	if got := chip.Counters().Erases; got != 0 {
		t.Errorf("erases = %d, want 0", got)
	}
}

func TestDisk_Ioctl(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x77), 9, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}

	tests := []struct {
		op      blockdev.Op
		want    uint32
		wantErr error
	}{
		{blockdev.OpInit, 0, nil},
		{blockdev.OpBlockCount, testSize / testBlockSize, nil},
		{blockdev.OpBlockSize, testBlockSize, nil},
		{blockdev.OpBlockErase, 0, nil},
		{blockdev.OpSync, 0, nil},
		{blockdev.Op(42), 0, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got, err := d.Ioctl(tt.op, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Ioctl() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Ioctl() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := chip.Bytes()[9*testBlockSize]; got != 0x77 {
		t.Errorf("sync ioctl did not commit: flash = %#x", got)
	}
}

func TestDisk_ReaderWriterAt(t *testing.T) {
	d, chip := newDisk(t)

	src := fill(2*testBlockSize, 0x3C)
	if n, err := d.WriteAt(src, 7*testBlockSize); err != nil || n != len(src) {
		t.Fatalf("WriteAt() = %d, %v", n, err)
	}
	out := make([]byte, len(src))
	if n, err := d.ReadAt(out, 7*testBlockSize); err != nil || n != len(out) {
		t.Fatalf("ReadAt() = %d, %v", n, err)
	}
	if !bytes.Equal(out, src) {
		t.Error("ReadAt() does not match WriteAt()")
	}

	tests := []struct {
		name string
		buf  []byte
		off  int64
		want error
	}{
		{"unaligned offset", make([]byte, testBlockSize), 100, pkg.ErrUnaligned},
		{"negative offset", make([]byte, testBlockSize), -testBlockSize, pkg.ErrUnaligned},
		{"partial block", make([]byte, testBlockSize+1), 0, pkg.ErrUnaligned},
		{"lba overflow", fill(testBlockSize, 0x11), int64(1<<32) * testBlockSize, pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.WriteAt(tt.buf, tt.off); !errors.Is(err, tt.want) {
				t.Errorf("WriteAt() error = %v, want %v", err, tt.want)
			}
			if _, err := d.ReadAt(tt.buf, tt.off); !errors.Is(err, tt.want) {
				t.Errorf("ReadAt() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !bytes.Equal(chip.Bytes()[:testBlockSize], fill(testBlockSize, 0xFF)) {
		t.Error("rejected WriteAt() reached block 0")
	}
}

func TestDisk_Close(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x21), 0, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := chip.Bytes()[0]; got != 0x21 {
		t.Errorf("Close() did not flush: flash[0] = %#x", got)
	}

	if err := d.ReadBlocks(make([]byte, testBlockSize), 0, 1); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("ReadBlocks() error = %v, want %v", err, pkg.ErrClosed)
	}
	if err := d.Sync(); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("Sync() error = %v, want %v", err, pkg.ErrClosed)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDisk_CloseFlushFailure(t *testing.T) {
	d, chip := newDisk(t)

	if err := d.WriteBlocks(fill(testBlockSize, 0x21), 0, 1); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	chip.FailProgram(pkg.ErrHardware)
	if err := d.Close(); !errors.Is(err, pkg.ErrHardware) {
		t.Errorf("Close() error = %v, want %v", err, pkg.ErrHardware)
	}
}

func TestDisk_Stats(t *testing.T) {
	d, _ := newDisk(t)

	if err := d.WriteBlocks(fill(3*testBlockSize, 0x10), 6, 3); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if err := d.ReadBlocks(make([]byte, testBlockSize), testBPP, 1); err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	want := flash.Stats{
		Loads:         2,
		Flushes:       2,
		Hits:          1,
		BlocksRead:    1,
		BlocksWritten: 3,
	}
	if diff := cmp.Diff(want, d.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestDisk_MatchesMemoryDevice(t *testing.T) {
	d, _ := newDisk(t)
	count, _ := d.BlockCount()

	ref := blockdev.NewMemoryDevice(count, testBlockSize)
	if err := ref.WriteBlocks(fill(testSize, 0xFF), 0, count); err != nil {
		t.Fatalf("reference WriteBlocks() error = %v", err)
	}

	r := rand.New(rand.NewPCG(7, 8))
	for i := 0; i < 500; i++ {
		lba := r.Uint32N(count)
		n := 1 + r.Uint32N(min(count-lba, 2*testBPP))

		switch r.IntN(4) {
		case 0, 1:
			p := pattern(r, int(n)*testBlockSize)
			if err := d.WriteBlocks(p, lba, n); err != nil {
				t.Fatalf("op %d: WriteBlocks(%d, %d) error = %v", i, lba, n, err)
			}
			if err := ref.WriteBlocks(p, lba, n); err != nil {
				t.Fatalf("op %d: reference WriteBlocks() error = %v", i, err)
			}
		case 2:
			got := make([]byte, n*testBlockSize)
			want := make([]byte, n*testBlockSize)
			if err := d.ReadBlocks(got, lba, n); err != nil {
				t.Fatalf("op %d: ReadBlocks(%d, %d) error = %v", i, lba, n, err)
			}
			if err := ref.ReadBlocks(want, lba, n); err != nil {
				t.Fatalf("op %d: reference ReadBlocks() error = %v", i, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("op %d: ReadBlocks(%d, %d) differs from reference", i, lba, n)
			}
		case 3:
			if err := d.Sync(); err != nil {
				t.Fatalf("op %d: Sync() error = %v", i, err)
			}
		}
	}

	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	got := make([]byte, testSize)
	if err := d.ReadBlocks(got, 0, count); err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	if !bytes.Equal(got, ref.Bytes()) {
		t.Error("final contents differ from reference")
	}
}

func TestDisk_ConcurrentWriters(t *testing.T) {
	d, chip := newDisk(t)

	const writers = 4
	var g errgroup.Group
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			base := uint32(w) * 2 * testBPP
			for i := uint32(0); i < 2*testBPP; i++ {
				if err := d.WriteBlocks(fill(testBlockSize, byte(w+1)), base+i, 1); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("writer error = %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	mem := chip.Bytes()
	for w := 0; w < writers; w++ {
		start := w * 2 * testPageSize
		if !bytes.Equal(mem[start:start+2*testPageSize], fill(2*testPageSize, byte(w+1))) {
			t.Errorf("writer %d region corrupted", w)
		}
	}
}
