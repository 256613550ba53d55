package mpegts

// syncLookahead is the number of consecutive sync bytes, one packet apart,
// required to accept an offset as a packet boundary. A single 0x47 is
// common inside payload data.
const syncLookahead = 3

// syncSpan is the number of bytes needed to test one candidate offset.
const syncSpan = (syncLookahead-1)*PacketSize + 1

// FindSync returns the first offset in b at which syncLookahead packets in
// a row begin with the sync byte, or -1 if there is none.
func FindSync(b []byte) int {
	for i := 0; i+syncSpan <= len(b); i++ {
		if isSyncedAt(b, i) {
			return i
		}
	}
	return -1
}

func isSyncedAt(b []byte, i int) bool {
	for k := 0; k < syncLookahead; k++ {
		if b[i+k*PacketSize] != SyncByte {
			return false
		}
	}
	return true
}
