package cras

/*------------------------------------------------------------------
 *
 * Component:	Shared Audio Region (C3)
 *
 * Purpose:	A two-slot double-buffered ring mapped from a server-supplied
 *		fd. A fixed-layout header at offset 0 is the synchronization
 *		surface with the server; the remainder is sample data. All
 *		header field access goes through atomic loads/stores over the
 *		mapped bytes so neither process's compiler reorders or elides
 *		an access the other side is watching.
 *
 *------------------------------------------------------------------*/

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// numSlots is the number of ring buffer slots.
const numSlots = 2

// Byte offsets of the packed header fields. The layout is fixed
// and must never be reordered: it is read by a separate process.
const (
	offUsedSize          = 0
	offFrameBytes        = 4
	offReadBufIdx        = 8
	offWriteBufIdx       = 12
	offReadOffset        = 16 // [2]u32
	offWriteOffset       = 24 // [2]u32
	offWriteInProgress   = 32 // [2]i32
	offVolumeScaler      = 40
	offMute              = 44
	offCallbackPending   = 48
	offNumOverruns       = 52
	offTimestamp         = 56 // {sec int64, nsec int64}

	// headerSize is the offset of the sample area: the size of the packed
	// header above. This is computed, not hand-maintained, to keep it in
	// sync with the field layout (mirrors cras_audio_shm_area::offset_of_samples
	// in the reference client).
	headerSize = offTimestamp + 16
)

// sharedRegion is a reference-counted mmap handle. The last HeaderView or
// BufferView to release it unmaps and closes the fd.
type sharedRegion struct {
	mu       sync.Mutex
	data     []byte
	fd       int
	refcount int
}

func newSharedRegion(fd int, size int) (*sharedRegion, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, wrapIO("mmap", err)
	}
	return &sharedRegion{data: data, fd: fd, refcount: 0}, nil
}

func (r *sharedRegion) retain() {
	r.mu.Lock()
	r.refcount++
	r.mu.Unlock()
}

func (r *sharedRegion) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refcount--
	if r.refcount == 0 {
		unix.Munmap(r.data)
		unix.Close(r.fd)
		r.data = nil
	}
}

func (r *sharedRegion) loadU32(off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[off])))
}

func (r *sharedRegion) storeU32(off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.data[off])), v)
}

func (r *sharedRegion) loadI32(off int) int32 {
	return int32(r.loadU32(off))
}

// HeaderView is the accessor for the shared-region header (C3). It and a
// BufferView co-own the same sharedRegion so either can be dropped first
// during teardown.
type HeaderView struct {
	region     *sharedRegion
	samplesLen int
}

// UsedSize returns the per-slot byte capacity.
func (h *HeaderView) UsedSize() uint32 {
	return h.region.loadU32(offUsedSize)
}

// FrameSize returns the number of bytes per audio frame.
func (h *HeaderView) FrameSize() uint32 {
	return h.region.loadU32(offFrameBytes)
}

// WriteSlot returns the slot currently owned by the writer, masked to 0/1.
func (h *HeaderView) WriteSlot() uint32 {
	return h.region.loadU32(offWriteBufIdx) & (numSlots - 1)
}

// ReadSlot returns the slot currently owned by the reader, masked to 0/1.
func (h *HeaderView) ReadSlot() uint32 {
	return h.region.loadU32(offReadBufIdx) & (numSlots - 1)
}

// WritableRegion returns the offset into the sample area and length of the
// slot the writer should currently be filling.
func (h *HeaderView) WritableRegion() (offset int, length int) {
	used := int(h.UsedSize())
	return int(h.WriteSlot()) * used, used
}

// ReadableRegion is the capture-direction analogue of WritableRegion.
func (h *HeaderView) ReadableRegion() (offset int, length int) {
	used := int(h.UsedSize())
	return int(h.ReadSlot()) * used, used
}

func (h *HeaderView) validateSlotOffset(slot uint32, offset uint32) error {
	if slot >= numSlots {
		return invalidInput("slot index out of range")
	}
	used := h.UsedSize()
	if offset > used {
		return invalidInput("offset exceeds used_size")
	}
	if int(offset)+int(used) > h.samplesLen {
		return invalidInput("offset + used_size exceeds sample area")
	}
	return nil
}

// SetWriteOffset sets write_offset[slot] after bounds-checking offset.
func (h *HeaderView) SetWriteOffset(slot uint32, offset uint32) error {
	if err := h.validateSlotOffset(slot, offset); err != nil {
		return err
	}
	h.region.storeU32(offWriteOffset+int(slot)*4, offset)
	return nil
}

// SetReadOffset sets read_offset[slot] after bounds-checking offset.
func (h *HeaderView) SetReadOffset(slot uint32, offset uint32) error {
	if err := h.validateSlotOffset(slot, offset); err != nil {
		return err
	}
	h.region.storeU32(offReadOffset+int(slot)*4, offset)
	return nil
}

// WriteOffset returns write_offset[slot] (used by tests and diagnostics).
func (h *HeaderView) WriteOffset(slot uint32) uint32 {
	return h.region.loadU32(offWriteOffset + int(slot)*4)
}

// ReadOffset returns read_offset[slot].
func (h *HeaderView) ReadOffset(slot uint32) uint32 {
	return h.region.loadU32(offReadOffset + int(slot)*4)
}

func (h *HeaderView) switchWriteBufIdx() {
	cur := h.region.loadU32(offWriteBufIdx) & (numSlots - 1)
	h.region.storeU32(offWriteBufIdx, cur^1)
}

func (h *HeaderView) switchReadBufIdx() {
	cur := h.region.loadU32(offReadBufIdx) & (numSlots - 1)
	h.region.storeU32(offReadBufIdx, cur^1)
}

// CommitWrite publishes frameCount frames written to the current write
// slot, then flips write_buf_idx. Offsets
// are published before the index flip so a concurrent reader never observes
// a flipped index with stale offsets.
func (h *HeaderView) CommitWrite(frameCount uint32) error {
	byteCount := uint64(frameCount) * uint64(h.FrameSize())
	if byteCount > uint64(h.UsedSize()) {
		return invalidInput("frame_count * frame_size exceeds used_size")
	}
	slot := h.WriteSlot()
	if err := h.SetWriteOffset(slot, uint32(byteCount)); err != nil {
		return err
	}
	if err := h.SetReadOffset(slot, 0); err != nil {
		return err
	}
	h.switchWriteBufIdx()
	return nil
}

// CommitRead is the capture-direction analogue of CommitWrite.
func (h *HeaderView) CommitRead(frameCount uint32) error {
	byteCount := uint64(frameCount) * uint64(h.FrameSize())
	if byteCount > uint64(h.UsedSize()) {
		return invalidInput("frame_count * frame_size exceeds used_size")
	}
	slot := h.ReadSlot()
	if err := h.SetReadOffset(slot, uint32(byteCount)); err != nil {
		return err
	}
	if err := h.SetWriteOffset(slot, 0); err != nil {
		return err
	}
	h.switchReadBufIdx()
	return nil
}

// Mute reports the server's mute flag.
func (h *HeaderView) Mute() bool {
	return h.region.loadI32(offMute) != 0
}

// VolumeScaler reports the server's volume scaler.
func (h *HeaderView) VolumeScaler() float32 {
	bits := h.region.loadU32(offVolumeScaler)
	return *(*float32)(unsafe.Pointer(&bits))
}

// NumOverruns reports the server's overrun counter.
func (h *HeaderView) NumOverruns() uint32 {
	return h.region.loadU32(offNumOverruns)
}

// Timestamp returns the server's {sec, nsec} timestamp fields, for
// diagnostics (DumpShmHeader).
func (h *HeaderView) Timestamp() (sec int64, nsec int64) {
	r := h.region
	sec = int64(r.loadU32(offTimestamp)) | int64(r.loadU32(offTimestamp+4))<<32
	nsec = int64(r.loadU32(offTimestamp+8)) | int64(r.loadU32(offTimestamp+12))<<32
	return sec, nsec
}

func (h *HeaderView) release() {
	h.region.release()
}

// BufferView exposes the sample area of the shared region (C3/C4).
type BufferView struct {
	region *sharedRegion
	base   int // offset of the sample area within region.data
	length int
}

// Slice returns a mutable window into the sample area, bounded to
// [offset, offset+length).
func (b *BufferView) Slice(offset int, length int) []byte {
	start := b.base + offset
	return b.region.data[start : start+length]
}

func (b *BufferView) release() {
	b.region.release()
}

// createViews is the C3 factory: given a mapped region, compute the header
// size and construct the co-owning header/buffer views.
func createViews(region *sharedRegion) (*HeaderView, *BufferView) {
	samplesLen := len(region.data) - headerSize
	region.retain() // one reference for the header view
	region.retain() // one reference for the buffer view
	header := &HeaderView{region: region, samplesLen: samplesLen}
	buffer := &BufferView{region: region, base: headerSize, length: samplesLen}
	return header, buffer
}

// mapSharedRegion mmaps fd for size bytes and returns the co-owning
// header/buffer views. The caller is no longer responsible for fd; the last
// view to be released closes it.
func mapSharedRegion(fd int, size int) (*HeaderView, *BufferView, error) {
	region, err := newSharedRegion(fd, size)
	if err != nil {
		return nil, nil, err
	}
	header, buffer := createViews(region)
	return header, buffer, nil
}
