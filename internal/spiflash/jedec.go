package spiflash

// jedecTable is the static manufacturer/model lookup keyed by the 3-byte
// JEDEC ID (manufacturer, memory type, capacity) RDID returns. Grounded on
// original_source/src/spiFlashdb.hpp's flash_list; BPOffsets mirrors its
// bp_offset array, reindexed from bit positions to the protected-byte-count
// keys EnableProtection accepts rather than a raw array, which is the more
// idiomatic Go shape for a sparse lookup.
var jedecTable = map[[3]byte]Descriptor{
	{0x20, 0xba, 0x18}: {
		Manufacturer: "micron", Model: "N25Q128",
		SizeBytes: 256 * 64 << 10, Supports64KErase: true, Supports4KErase: true, ExtendedAddress: true,
		BPOffsets: map[int]byte{0: 0, 128 << 10: 1 << 2, 512 << 10: 1 << 3, 2 << 20: 1 << 4, 16 << 20: 1 << 6},
	},
	{0x20, 0xba, 0x19}: {
		Manufacturer: "micron", Model: "N25Q256",
		SizeBytes: 512 * 64 << 10, Supports64KErase: true, Supports4KErase: true, ExtendedAddress: true,
		BPOffsets: map[int]byte{0: 0, 128 << 10: 1 << 2, 512 << 10: 1 << 3, 2 << 20: 1 << 4, 32 << 20: 1 << 6},
	},
	{0x9d, 0x60, 0x16}: {
		Manufacturer: "ISSI", Model: "IS25LP032",
		SizeBytes: 64 * 64 << 10, Supports64KErase: true, Supports4KErase: true,
		BPOffsets: map[int]byte{0: 0, 64 << 10: 1 << 2, 256 << 10: 1 << 3, 1 << 20: 1 << 4, 4 << 20: 1 << 5},
	},
	{0x9d, 0x60, 0x17}: {
		Manufacturer: "ISSI", Model: "IS25LP064",
		SizeBytes: 128 * 64 << 10, Supports64KErase: true, Supports4KErase: true,
		BPOffsets: map[int]byte{0: 0, 128 << 10: 1 << 2, 512 << 10: 1 << 3, 2 << 20: 1 << 4, 8 << 20: 1 << 5},
	},
	{0x9d, 0x60, 0x18}: {
		Manufacturer: "ISSI", Model: "IS25LP128",
		SizeBytes: 256 * 64 << 10, Supports64KErase: true, Supports4KErase: true,
		BPOffsets: map[int]byte{0: 0, 256 << 10: 1 << 2, 1 << 20: 1 << 3, 4 << 20: 1 << 4, 16 << 20: 1 << 5},
	},
	{0xef, 0x40, 0x18}: {
		Manufacturer: "Winbond", Model: "W25Q128",
		SizeBytes: 256 * 64 << 10, Supports64KErase: true, Supports4KErase: true,
		BPOffsets: map[int]byte{0: 0, 256 << 10: 1 << 2, 1 << 20: 1 << 3, 4 << 20: 1 << 4},
	},
	// Microchip SST26VF032B uses a dedicated ULBPR/RBPR protection path
	// instead of status-register BP bits.
	{0xbf, 0x26, 0x42}: {
		Manufacturer: "Microchip", Model: "SST26VF032B",
		SizeBytes: 4 << 20, Supports64KErase: true, Supports4KErase: true, Microchip: true,
	},
}

// LookupJEDEC resolves a 3-byte RDID response against the static flash
// descriptor table, the default lookup New's caller passes when it has no
// reason to supply its own.
func LookupJEDEC(id [3]byte) (Descriptor, bool) {
	d, ok := jedecTable[id]
	return d, ok
}
