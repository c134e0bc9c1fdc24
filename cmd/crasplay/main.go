package main

/*------------------------------------------------------------------
 *
 * Purpose:	Command-line raw-PCM playback client, grounded on
 *		cras_tests' playback path: connect, open an output
 *		stream, and feed it a raw file one REQUEST_DATA at a
 *		time until the file runs out.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/crasgo/crasgo/cras"
	"github.com/spf13/pflag"
)

func main() {
	var socketPath = pflag.StringP("socket", "s", "", "Path to the audio server socket. Defaults to the config file's socket_path, or "+cras.DefaultServerSocketPath+".")
	var configFile = pflag.StringP("config", "c", "", "YAML config file with client defaults.")
	var rate = pflag.UintP("rate", "r", 0, "Sample rate. 0 uses the config default.")
	var channels = pflag.UintP("channels", "n", 0, "Channel count. 0 uses the config default.")
	var blockSize = pflag.UintP("block-size", "b", 256, "Frames per callback.")
	var verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "crasplay - play a raw PCM file through the audio server.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: crasplay [options] /path/to/playback_file.raw\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || pflag.NArg() != 1 {
		pflag.Usage()
		if *help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if *verbose {
		cras.SetLogLevel(log.DebugLevel)
	}

	cfg := cras.DefaultConfig()
	if *configFile != "" {
		loaded, err := cras.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *rate != 0 {
		cfg.DefaultRate = uint32(*rate)
	}
	if *channels != 0 {
		cfg.DefaultChannels = uint32(*channels)
	}

	if err := run(cfg, uint32(*blockSize), pflag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfg cras.Config, blockSize uint32, path string) error {
	client, err := cras.Connect(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	stream, err := client.CreateStream(cras.DirectionPlayback, cfg.DefaultRate, cfg.DefaultChannels, cfg.DefaultFormat, blockSize, blockSize)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	local := make([]byte, 4096)
	for {
		n, readErr := f.Read(local)
		if n > 0 {
			if err := fillBuffer(stream, local[:n]); err != nil {
				return fmt.Errorf("fill buffer: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return nil
}

func fillBuffer(stream *cras.Stream, data []byte) error {
	buf, err := stream.NextPlaybackBuffer()
	if err != nil {
		return err
	}
	defer buf.Release()

	written, err := buf.WriteFrames(data)
	if err != nil {
		return err
	}
	fmt.Printf("write_frames: %d, frame_size: %d\n", written, buf.FrameSize())
	return nil
}
