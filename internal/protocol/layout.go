package protocol

// Conventional flash addresses for an application image: a second-stage
// bootloader at offset 0, then a partition table, then the application
// itself. Boards that ship their own bootloader/partition table pass
// them in separately; these are just where they land.
const (
	BootloaderAddress = 0x0000
	PartitionsAddress = 0x8000
)

// RomBaudRate is the fixed speed the ROM bootloader answers SYNC at.
// A connection always opens and syncs here; CHANGE_BAUD (if requested)
// raises the link speed only after sync and chip detect succeed.
const RomBaudRate = 115200

// DefaultBaudRate is the CLI's default *target* baud, requested via
// CHANGE_BAUD once connected. It is not the speed a port is opened at.
const DefaultBaudRate = 921600
