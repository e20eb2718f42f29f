package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/mirror"
)

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Work with the firmware mirror",
}

var firmwareFetchCmd = &cobra.Command{
	Use:   "fetch <key>",
	Short: "Download a firmware image from the mirror",
	Args:  exactArgs(1),
	RunE:  runFirmwareFetch,
}

var firmwarePublishCmd = &cobra.Command{
	Use:   "publish <file> <key>",
	Short: "Upload a packaged firmware image to the mirror",
	Args:  exactArgs(2),
	RunE:  runFirmwarePublish,
}

var firmwareListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List firmware images on the mirror",
	Args:  wrapArgs(cobra.MaximumNArgs(1)),
	RunE:  runFirmwareList,
}

func init() {
	rootCmd.AddCommand(firmwareCmd)
	firmwareCmd.AddCommand(firmwareFetchCmd)
	firmwareCmd.AddCommand(firmwarePublishCmd)
	firmwareCmd.AddCommand(firmwareListCmd)

	firmwareFetchCmd.Flags().String("out", "", "Destination path (default: <work-dir>/firmware/<basename>)")
	firmwarePublishCmd.Flags().Bool("force", false, "Overwrite an existing mirror object")
}

func mirrorClient(cmd *cobra.Command, cfg *config.Config) (*mirror.Client, error) {
	client, err := mirror.NewClient(cmd.Context(), mirror.Options{
		Bucket:    cfg.MirrorBucket,
		Region:    cfg.MirrorRegion,
		Endpoint:  cfg.MirrorEndpoint,
		Anonymous: cfg.MirrorAnonymous,
	})
	if err != nil {
		return nil, errors.Wrap(err, "mirror client failed")
	}
	return client, nil
}

func runFirmwareFetch(cmd *cobra.Command, args []string) error {
	key := args[0]
	out, _ := cmd.Flags().GetString("out")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	if out == "" {
		out = filepath.Join(cfg.WorkDir, "firmware", filepath.Base(key))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return errors.Wrap(err, "failed to create firmware directory")
	}

	client, err := mirrorClient(cmd, cfg)
	if err != nil {
		return err
	}

	res, err := client.Download(cmd.Context(), key, out)
	if err != nil {
		return errors.Wrap(err, "firmware download failed")
	}

	fmt.Printf("✅ Downloaded %s (%s, sha256 %s...)\n",
		res.LocalPath, units.HumanSize(float64(res.Size)), res.SHA256[:16])
	return nil
}

func runFirmwarePublish(cmd *cobra.Command, args []string) error {
	localPath, key := args[0], args[1]
	force, _ := cmd.Flags().GetBool("force")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	client, err := mirrorClient(cmd, cfg)
	if err != nil {
		return err
	}

	if !force {
		exists, err := client.Exists(cmd.Context(), key)
		if err != nil {
			return errors.Wrap(err, "failed to check mirror")
		}
		if exists {
			return fmt.Errorf("mirror already has %s (use --force to overwrite)", key)
		}
	}

	res, err := client.Upload(cmd.Context(), localPath, key)
	if err != nil {
		return errors.Wrap(err, "firmware publish failed")
	}

	fmt.Printf("✅ Published %s as %s (%s, sha256 %s...)\n",
		localPath, res.Key, units.HumanSize(float64(res.Size)), res.SHA256[:16])
	return nil
}

func runFirmwareList(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	client, err := mirrorClient(cmd, cfg)
	if err != nil {
		return err
	}

	objects, err := client.List(cmd.Context(), prefix)
	if err != nil {
		return errors.Wrap(err, "mirror list failed")
	}

	if len(objects) == 0 {
		fmt.Println("No firmware images found")
		return nil
	}

	fmt.Printf("%-56s %-10s %s\n", "KEY", "SIZE", "MODIFIED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, obj := range objects {
		fmt.Printf("%-56s %-10s %s ago\n",
			obj.Key, units.HumanSize(float64(obj.Size)), units.HumanDuration(time.Since(obj.LastModified)))
	}
	return nil
}
