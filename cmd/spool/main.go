package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ab180/exchange"
	"github.com/ab180/exchange/buffers"
	"github.com/ab180/exchange/output"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	baseDir   string
	compress  bool
	codec     string
	keyHex    string
	ivHex     string
	etcdAddrs []string

	destType  string
	bufferIDs []string
	timeout   time.Duration

	listTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "spool",
		Short:        "Spools pages into exchange buffers and reads them back",
		SilenceUsage: true,
	}
	opt := exchange.DefaultOptions()
	root.PersistentFlags().StringVar(&baseDir, "dir", opt.BaseDir, "base directory of spooled exchanges")
	root.PersistentFlags().BoolVar(&compress, "compress", false, "compress spooled pages")
	root.PersistentFlags().StringVar(&codec, "codec", string(opt.Output.Codec), "compression codec (lz4, snappy)")
	root.PersistentFlags().StringVar(&keyHex, "key", "", "hex-encoded AES key. pages are encrypted when it's given")
	root.PersistentFlags().StringVar(&ivHex, "iv", "", "hex-encoded IV of the AES key")
	root.PersistentFlags().StringSliceVar(&etcdAddrs, "etcd", nil, "etcd endpoints to publish destinations to")

	write := &cobra.Command{
		Use:   "write <exchange-id>",
		Short: "Writes lines from stdin. A line is partitioned by the text before its first tab",
		Args:  cobra.ExactArgs(1),
		RunE:  runWrite,
	}
	write.Flags().StringVar(&destType, "type", buffers.Arbitrary.String(), "destination type (BROADCAST, ARBITRARY, PARTITIONED)")
	write.Flags().StringSliceVar(&bufferIDs, "buffers", []string{"0"}, "destination buffer IDs")
	write.Flags().DurationVar(&timeout, "timeout", time.Minute, "timeout of finishing the exchange")

	read := &cobra.Command{
		Use:   "read <exchange-id> <buffer-id>",
		Short: "Prints a spooled buffer to stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  runRead,
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Lists destinations published to etcd",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	list.Flags().DurationVar(&listTimeout, "timeout", 5*time.Second, "timeout of reading etcd")
	root.AddCommand(write, read, list)

	if err := root.Execute(); err != nil {
		log.Fatal().
			Err(err).
			Msg("failed to run spool")
	}
}

func openManager() (*exchange.Manager, error) {
	opt := exchange.DefaultOptions()
	opt.BaseDir = baseDir
	opt.Output.Compression = compress
	opt.Output.Codec = output.Codec(codec)
	if len(etcdAddrs) > 0 {
		opt.EtcdEndpoints = etcdAddrs
		return exchange.ConnectManager(opt)
	}
	return exchange.NewManager(opt)
}

func keyMaterial() (*output.KeyMaterial, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode IV")
	}
	return &output.KeyMaterial{Key: key, IV: iv}, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	typ, err := buffers.ParseType(strings.ToUpper(destType))
	if err != nil {
		return err
	}
	ids, err := parseBufferIDs(bufferIDs)
	if err != nil {
		return err
	}
	km, err := keyMaterial()
	if err != nil {
		return err
	}
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	e, err := m.Create(args[0], typ, km)
	if err != nil {
		return err
	}
	e.Assigner().AddConsumers(ids, true)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		key, _, _ := strings.Cut(line, "\t")
		if err := e.Write(key, []byte(line+"\n")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = e.Abort()
		return errors.Wrap(err, "read stdin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Finish(ctx); err != nil {
		_ = e.Abort()
		return err
	}
	log.Info().
		Str("exchange", e.ID()).
		Interface("metrics", m.ExchangeMetrics(e.ID())).
		Msg("done!")
	return nil
}

func parseBufferIDs(raw []string) ([]buffers.ID, error) {
	ids := make([]buffers.ID, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse buffer ID %q", s)
		}
		ids = append(ids, buffers.ID(id))
	}
	return lo.Uniq(ids), nil
}

func runList(cmd *cobra.Command, args []string) error {
	if len(etcdAddrs) == 0 {
		return errors.New("--etcd is required")
	}
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	sets, err := m.PublishedDestinations(ctx)
	if err != nil {
		return err
	}
	for id, set := range sets {
		log.Info().
			Str("exchange", id).
			Str("destinations", set.String()).
			Uint64("version", set.Version()).
			Msg("published")
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	bufID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return errors.Wrap(err, "parse buffer ID")
	}
	km, err := keyMaterial()
	if err != nil {
		return err
	}
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	r, err := m.OpenReader(args[0], buffers.ID(bufID), km)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(os.Stdout, r); err != nil {
		return errors.Wrap(err, "copy buffer")
	}
	return nil
}
