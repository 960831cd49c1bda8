// Package hal describes the debug struct a target runtime shares with the
// host bridge.
package hal

const (
	// PUTC_BUFFER_SIZE is the size of the target's character output buffer.
	PUTC_BUFFER_SIZE = 128

	// DEBUG_STRUCT_SIZE is the size of the debug struct in the default layout.
	DEBUG_STRUCT_SIZE = 160
)

// Layout gives the offsets of the debug struct fields used by the bridge.
type Layout struct {
	ExitStatus        uint32
	UseInternalPrintf uint32
	PendingPutchar    uint32
	PutcBuffer        uint32
	PutcBufferSize    uint32
	TargetAvailable   uint32

	// Host request queue.
	BridgeConnected uint32
	FirstBridgeReq  uint32
	NotifReqAddr    uint32
	NotifReqValue   uint32
}

// DefaultLayout matches the runtime's hal_debug_struct_t.
var DefaultLayout = Layout{
	ExitStatus:        0,
	UseInternalPrintf: 4,
	PendingPutchar:    8,
	PutcBuffer:        12,
	PutcBufferSize:    PUTC_BUFFER_SIZE,
	TargetAvailable:   12 + PUTC_BUFFER_SIZE,
	BridgeConnected:   16 + PUTC_BUFFER_SIZE,
	FirstBridgeReq:    20 + PUTC_BUFFER_SIZE,
	NotifReqAddr:      24 + PUTC_BUFFER_SIZE,
	NotifReqValue:     28 + PUTC_BUFFER_SIZE,
}

// DebugStruct locates a debug struct in target memory. It is a view only;
// the struct itself is owned by the target.
type DebugStruct struct {
	Addr uint32
	Layout
}

// NewDebugStruct returns a view of the debug struct at addr, in the
// default layout.
func NewDebugStruct(addr uint32) *DebugStruct {
	return &DebugStruct{Addr: addr, Layout: DefaultLayout}
}

func (ds *DebugStruct) ExitStatusAddr() uint32 {
	return ds.Addr + ds.Layout.ExitStatus
}

func (ds *DebugStruct) UseInternalPrintfAddr() uint32 {
	return ds.Addr + ds.Layout.UseInternalPrintf
}

func (ds *DebugStruct) PendingPutcharAddr() uint32 {
	return ds.Addr + ds.Layout.PendingPutchar
}

func (ds *DebugStruct) PutcBufferAddr() uint32 {
	return ds.Addr + ds.Layout.PutcBuffer
}

func (ds *DebugStruct) TargetAvailableAddr() uint32 {
	return ds.Addr + ds.Layout.TargetAvailable
}

func (ds *DebugStruct) BridgeConnectedAddr() uint32 {
	return ds.Addr + ds.Layout.BridgeConnected
}

// FirstBridgeReqAddr holds the address of the oldest request the target has
// queued for the host, 0 if none.
func (ds *DebugStruct) FirstBridgeReqAddr() uint32 {
	return ds.Addr + ds.Layout.FirstBridgeReq
}

// NotifReqAddrAddr holds the target address the host writes NotifReqValue
// to once a request is done.
func (ds *DebugStruct) NotifReqAddrAddr() uint32 {
	return ds.Addr + ds.Layout.NotifReqAddr
}

func (ds *DebugStruct) NotifReqValueAddr() uint32 {
	return ds.Addr + ds.Layout.NotifReqValue
}

// Size is the number of bytes spanned by the fields in the layout.
func (ly Layout) Size() uint32 {
	end := ly.PutcBuffer + ly.PutcBufferSize
	for _, off := range []uint32{
		ly.ExitStatus, ly.UseInternalPrintf, ly.PendingPutchar, ly.TargetAvailable,
		ly.BridgeConnected, ly.FirstBridgeReq, ly.NotifReqAddr, ly.NotifReqValue,
	} {
		end = max(end, off+4)
	}
	return end
}
