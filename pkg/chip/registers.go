package chip

// Register addresses of the chip's host interface block. Shared memory
// windows referenced by GP2 are offset into the 0x30000 region.
const (
	RegChipID   = 0x1000
	RegEFuse    = 0x1014
	RegRxCtrl3  = 0x106C
	RegRxCtrl0  = 0x1070
	RegRxCtrl2  = 0x1078
	RegRxCtrl1  = 0x1084
	RegNMIState = 0x108C
	RegRevID    = 0x13F4
	RegPinMux0  = 0x1408
	RegGP1      = 0x14A0
	RegIntrEn   = 0x1A00
	RegHostWait = 0x207BC
	RegGP2      = 0xC0008
	RegBootROM  = 0xC000C
	RegRxCtrl4  = 0x150400
)

// SharedBase is or'd onto the 16-bit offsets the chip hands out for shared
// memory blocks.
const SharedBase = 0x30000

// Boot handshake values exchanged through the state and bootrom registers.
const (
	FinishBoot    = 0x10ADD09E // bootrom is done
	DriverVersion = 0x13521330 // host driver version announcement
	ConfValue     = 0x102      // driver configuration word
	StartFirmware = 0xEF522F61 // bootrom command to launch the firmware
	FinishInit    = 0x02532636 // firmware is up
)

// Bit masks.
const (
	efuseLoadedBit = 1 << 31 // RegEFuse: OTP values are valid
	hostWaitBit    = 1       // RegHostWait: bootrom wait already satisfied
	irqPinMuxBit   = 1 << 8  // RegPinMux0: route IRQ to the host pin
	irqEnableBit   = 1 << 16 // RegIntrEn: master interrupt enable
)
