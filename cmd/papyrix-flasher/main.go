package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/papyrix-flasher/internal/detect"
	"github.com/bigbag/papyrix-flasher/internal/flasher"
	"github.com/bigbag/papyrix-flasher/internal/protocol"
	"github.com/bigbag/papyrix-flasher/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag           string
	baudFlag           int
	bootloaderFlag     string
	partitionTableFlag string
	ramFlag            bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "papyrix-flasher",
		Short: "Flash firmware to ESP32-family devices over the ROM bootloader",
		Long: `Papyrix Flasher talks directly to the ESP32-family ROM bootloader over
a serial port: it syncs, autodetects the chip and SPI flash, then streams an
ELF firmware image (plus an optional bootloader and partition table) to
flash, or loads it straight into RAM for a quick test run.`,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.elf>",
		Short: "Flash firmware to a device",
		Long: `Flash an ELF firmware image to an attached device.

Pass --bootloader and --partition-table to also write those at their
conventional addresses (0x0 and 0x8000); otherwise only the firmware's own
segments are written. Pass --ram to load the image into RAM and run it
immediately instead of writing to flash.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	flashCmd.Flags().StringVar(&bootloaderFlag, "bootloader", "", "Path to a raw bootloader image, written at 0x0")
	flashCmd.Flags().StringVar(&partitionTableFlag, "partition-table", "", "Path to a raw partition table image, written at 0x8000")
	flashCmd.Flags().BoolVar(&ramFlag, "ram", false, "Load into RAM and run instead of writing to flash")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect and show information about connected devices.",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	infoCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("papyrix-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, infoCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(firmware))

	var bootloader, partitionTable []byte
	if bootloaderFlag != "" {
		if bootloader, err = os.ReadFile(bootloaderFlag); err != nil {
			return fmt.Errorf("failed to read bootloader file: %w", err)
		}
	}
	if partitionTableFlag != "" {
		if partitionTable, err = os.ReadFile(partitionTableFlag); err != nil {
			return fmt.Errorf("failed to read partition table file: %w", err)
		}
	}

	portName := portFlag
	if portName == "" {
		fmt.Println("Detecting device...")
		result, err := detect.DetectDevice(baudFlag)
		if err != nil {
			return fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found %s on %s (flash: %d bytes)\n", result.Chip, result.Port, result.FlashSize.Bytes())
	}

	port, err := serial.Open(portName, protocol.RomBaudRate)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Port: %s, syncing at %d baud\n", portName, protocol.RomBaudRate)

	f := flasher.New(port, baudFlag)

	fmt.Println("Connecting to bootloader...")
	if err := f.Connect(); err != nil {
		return err
	}
	fmt.Printf("Connected: %s, flash size %d bytes\n", f.Chip(), f.FlashSize().Bytes())

	var bar *progressbar.ProgressBar
	progress := &flasher.Progress{
		SegmentStarted: func(addr uint32, totalChunks int) {
			fmt.Printf("\nWriting segment at 0x%X (%d blocks)...\n", addr, totalChunks)
			bar = progressbar.NewOptions(totalChunks,
				progressbar.OptionSetDescription("Flashing"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		},
		ChunkWritten: func() {
			if bar != nil {
				bar.Add(1)
			}
		},
		SegmentDone: func(addr uint32) {
			if bar != nil {
				bar.Finish()
			}
		},
	}

	if ramFlag {
		fmt.Println("Loading firmware into RAM...")
		if err := f.LoadElfToRAM(firmware, progress); err != nil {
			return err
		}
		fmt.Println("\nLoaded and running.")
		return nil
	}

	fmt.Println("Flashing...")
	if err := f.LoadElfToFlash(firmware, bootloader, partitionTable, progress); err != nil {
		return err
	}
	fmt.Println("\nFlash complete, device rebooting into the new firmware.")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, baudFlag)
		if err != nil {
			return fmt.Errorf("failed to detect device on %s: %w", portFlag, err)
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for devices...")
	devices, err := detect.ListDevices(baudFlag)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}

	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:       %s\n", d.Port)
	fmt.Printf("  Chip:       %s\n", d.Chip)
	fmt.Printf("  Flash size: %d bytes\n", d.FlashSize.Bytes())
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
