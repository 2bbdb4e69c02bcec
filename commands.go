package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"digiskimmer/decoder"
	"digiskimmer/extparser"
	"digiskimmer/profile"
	"digiskimmer/skimmer"
	"digiskimmer/spot"
	"digiskimmer/station"
	"digiskimmer/upload"
)

var (
	decodeStation string
	decodeMode    string
	decodeFreq    float64
	decodeParse   bool

	replayStation string
	replayDryRun  bool

	packetStation string
)

func init() {
	decodeCmd := &cobra.Command{
		Use:   "decode [flags] FILE",
		Short: "Run the decoder over one recorded segment and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeFile(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	decodeCmd.Flags().StringVarP(&decodeStation, "station", "s", "", "station the segment belongs to")
	decodeCmd.Flags().StringVarP(&decodeMode, "mode", "m", "FT8", "decoder mode")
	decodeCmd.Flags().Float64VarP(&decodeFreq, "freq", "f", 0, "dial frequency in MHz")
	decodeCmd.Flags().BoolVar(&decodeParse, "parse", false, "feed the output through the configured parser and print spots")
	rootCmd.AddCommand(decodeCmd)

	replayCmd := &cobra.Command{
		Use:   "replay [flags] LOGFILE",
		Short: "Upload the spots of a spot log file again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayLog(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	replayCmd.Flags().StringVarP(&replayStation, "station", "s", "", "station to upload as (default: the log's directory name)")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "print the parsed spots instead of uploading them")
	rootCmd.AddCommand(replayCmd)

	packetCmd := &cobra.Command{
		Use:   "packet [flags] LOGFILE",
		Short: "Encode a spot log file as binary report packets and dump them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpPackets(cmd.OutOrStdout(), args[0])
		},
	}
	packetCmd.Flags().StringVarP(&packetStation, "station", "s", "", "station whose receiver info is used (default: the log's directory name)")
	rootCmd.AddCommand(packetCmd)
}

// Purpose: Decode one segment outside the daemon.
// Key aspects: Uses the same profile, nice level and timeout as the daemon;
// the segment file is left in place.
// Upstream: decode command.
// Downstream: skimmer.Recorder.DecodeLines, extparser.Parser.Run.
func decodeFile(ctx context.Context, out io.Writer, file string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	mode := spot.NormalizeMode(decodeMode)
	if !spot.IsSupportedMode(mode) {
		return fmt.Errorf("%w: %q", profile.ErrUnknownMode, decodeMode)
	}
	name := decodeStation
	if name == "" {
		names := cfg.StationNames()
		if len(names) == 0 {
			return fmt.Errorf("no station configured")
		}
		name = names[0]
	}
	rec, err := skimmer.NewRecorder(skimmer.Options{
		Station:     name,
		Hops:        []skimmer.Hop{{Band: "-", Mode: mode, Frequency: decodeFreq}},
		TmpPath:     cfg.TmpPath,
		Nice:        cfg.NiceLevel(),
		WaitTimeout: time.Duration(cfg.Decoder.WaitTimeoutSeconds) * time.Second,
	}, skimmer.Deps{
		Profiles: profile.NewRegistry(cfg.Decoder),
		Queue:    decoder.NewQueue(1, 1),
		Stations: station.NewStore(cfg.Stations),
	})
	if err != nil {
		return err
	}
	lines, err := rec.DecodeLines(ctx, decoder.Job{File: file, Frequency: decodeFreq, Mode: mode})
	if !decodeParse {
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return err
	}
	if err != nil {
		log.Printf("Decoder: %v", err)
	}
	parser, perr := extparser.New(cfg.Parser.Command, nil)
	if perr != nil {
		return perr
	}
	messages := make([]skimmer.Message, 0, len(lines))
	for _, line := range lines {
		messages = append(messages, skimmer.Message{Mode: mode, Frequency: decodeFreq, Line: line})
	}
	spots, perr := parser.Run(ctx, messages)
	for _, s := range spots {
		fmt.Fprint(out, spot.FormatLogLine(s, time.Local))
	}
	return perr
}

// Purpose: Re-upload a spot log through the configured transport.
// Key aspects: Spots go through the normal cluster path (dedup, batching)
// and are flushed at the end; the spot log is not appended to again.
// Upstream: replay command.
// Downstream: readSpotLog, pipeline.clusters, pipeline.close.
func replayLog(ctx context.Context, out io.Writer, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	name := stationFromLogPath(replayStation, path)
	spots, err := readSpotLog(path, time.Local)
	if err != nil {
		return err
	}
	if replayDryRun {
		for _, s := range spots {
			fmt.Fprint(out, spot.FormatLogLine(s, time.Local))
		}
		return nil
	}
	if _, ok := station.NewStore(cfg.Stations).Get(name); !ok {
		return fmt.Errorf("unknown station %q", name)
	}
	p, err := newPipeline(cfg, false)
	if err != nil {
		return err
	}
	for _, s := range spots {
		p.clusters.Spot(name, s)
	}
	pending := p.clusters.Pending()
	p.close(ctx, true)
	snap := p.stats.Snapshot()
	fmt.Fprintf(out, "%s: %s spots read, %s queued, %s uploaded, %s upload failures\n",
		name,
		humanize.Comma(int64(len(spots))),
		humanize.Comma(int64(pending)),
		humanize.Comma(int64(snap.UploadedBy[name])),
		humanize.Comma(int64(snap.UploadFailures)))
	if snap.UploadFailures > 0 {
		return fmt.Errorf("replay of %s incomplete", path)
	}
	return nil
}

// Purpose: Show the binary packets a spot log would produce.
// Key aspects: Every packet is decoded again and summarized below its dump.
// Upstream: packet command.
// Downstream: upload.PacketEncoder, upload.DecodePacket.
func dumpPackets(out io.Writer, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	name := stationFromLogPath(packetStation, path)
	st, ok := station.NewStore(cfg.Stations).Get(name)
	if !ok {
		return fmt.Errorf("unknown station %q", name)
	}
	spots, err := readSpotLog(path, time.Local)
	if err != nil {
		return err
	}
	enc := upload.NewPacketEncoder()
	packets, err := enc.Packets(upload.ReceiverInfoFor(st), spots)
	if err != nil {
		return err
	}
	for i, b := range packets {
		fmt.Fprintf(out, "packet %d (%s):\n%s", i+1, humanize.Bytes(uint64(len(b))), hex.Dump(b))
		pkt, err := upload.DecodePacket(b)
		if err != nil {
			return fmt.Errorf("packet %d: %w", i+1, err)
		}
		fmt.Fprintf(out, "  seq=%d instance=%08x receiver=%s/%s spots=%d\n",
			pkt.Sequence, pkt.Instance, pkt.Receiver.Callsign, pkt.Receiver.Locator, len(pkt.Spots))
	}
	return nil
}

// stationFromLogPath returns explicit when set, otherwise the directory the
// spot log lives in (spots/telnet/<station>/<yyMMdd>.log).
func stationFromLogPath(explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Base(filepath.Dir(path))
}

// readSpotLog parses a spot log file. The date comes from the file name;
// when the name is not a date the file's modification day is used.
func readSpotLog(path string, loc *time.Location) ([]spot.Spot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	day, err := time.ParseInLocation("060102", base, loc)
	if err != nil {
		info, serr := f.Stat()
		if serr != nil {
			return nil, serr
		}
		day = info.ModTime().In(loc)
	}

	var spots []spot.Spot
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s, err := spot.ParseLogLine(line, day)
		if err != nil {
			log.Printf("Replay: %s:%d: %v", path, lineNo, err)
			continue
		}
		spots = append(spots, s)
	}
	return spots, scanner.Err()
}
