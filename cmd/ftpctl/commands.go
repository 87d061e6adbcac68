package main

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ftpkit/ftp"
)

func newRmdirCmd(a *app) *cobra.Command {
	var (
		skipContents bool
		showHidden   bool
		flatListing  bool
		forceList    bool
	)

	cmd := &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Delete a remote directory and everything below it",
		Long: `Delete a remote directory. Contents are removed deepest first, files
before directories. The first failure stops the deletion; entries removed
before it stay removed.`,
		Example: `  ftpctl rmdir /tmp/build
  ftpctl rmdir /tmp/empty --skip-contents
  ftpctl rmdir /var/cache --hidden --flat-listing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			opts := ftp.DeleteOptions{
				SkipContents: skipContents,
				List: ftp.ListOptions{
					Recursive:  flatListing,
					ShowHidden: showHidden,
					ForceList:  forceList,
				},
			}
			if err := c.DeleteDirectory(ctx, args[0], opts); err != nil {
				return fmt.Errorf("failed to delete %s: %w", args[0], err)
			}

			a.out.Success("Deleted %s", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipContents, "skip-contents", false, "Only remove the directory itself (must be empty)")
	cmd.Flags().BoolVar(&showHidden, "hidden", false, "Include dot-files when listing")
	cmd.Flags().BoolVar(&flatListing, "flat-listing", false, "List the whole tree up front instead of one directory at a time")
	cmd.Flags().BoolVar(&forceList, "force-list", false, "Use LIST even if the server supports MLSD")

	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "Download a file",
		Long: `Download a remote file. With --resume an existing local file is
continued from its current size.`,
		Example: `  ftpctl get /pub/image.iso
  ftpctl get /pub/image.iso ./image.iso --resume`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]
			local := path.Base(strings.ReplaceAll(remote, `\`, "/"))
			if len(args) == 2 {
				local = args[1]
			}

			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			mode := ftp.DownloadOverwrite
			if resume {
				mode = ftp.DownloadResume
			}

			ok, err := c.DownloadFile(ctx, remote, local, mode, func(p ftp.Progress) {
				a.out.Progress(local, p)
			})
			a.out.EndProgress()
			if err != nil {
				return fmt.Errorf("failed to download %s: %w", remote, err)
			}
			if !ok {
				return fmt.Errorf("%s is not available on the server", remote)
			}

			a.out.Success("Downloaded %s to %s", remote, local)
			return nil
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Continue a partial local file")

	return cmd
}

func newMgetCmd(a *app) *cobra.Command {
	var (
		dir    string
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "mget <remote>...",
		Short: "Download several files in parallel",
		Long: `Download several remote files into a local directory. Each worker uses
its own connection; --parallel sets how many.`,
		Example: `  ftpctl mget /logs/a.log /logs/b.log --dir ./logs --parallel 2`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs := make([]ftp.DownloadJob, 0, len(args))
			for _, remote := range args {
				job := ftp.DownloadJob{
					RemotePath: remote,
					LocalPath:  filepath.Join(dir, path.Base(strings.ReplaceAll(remote, `\`, "/"))),
				}
				if resume {
					job.Mode = ftp.DownloadResume
				}
				jobs = append(jobs, job)
			}

			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			// Negotiate features once so the workers inherit them.
			if _, err := c.Features(ctx); err != nil {
				return err
			}

			results, err := c.DownloadFiles(ctx, jobs, a.cfg.Parallel)
			if err != nil {
				return err
			}

			missing := 0
			for i, ok := range results {
				if ok {
					a.out.Success("%s -> %s", jobs[i].RemotePath, jobs[i].LocalPath)
					continue
				}
				missing++
				a.out.Warning("%s is not available on the server", jobs[i].RemotePath)
			}
			if missing > 0 {
				return fmt.Errorf("%d of %d files were not downloaded", missing, len(jobs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Local directory to download into")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue partial local files")
	cmd.Flags().Int("parallel", DefaultParallel, "Number of parallel connections")

	return cmd
}

func newQuoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <command> [args...]",
		Short: "Send a raw command and print the reply",
		Example: `  ftpctl quote SITE CHMOD 755 /bin/run.sh
  ftpctl quote STAT`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.Quote(ctx, args[0], args[1:]...)
			if err != nil {
				return err
			}
			for _, line := range reply.Lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !reply.Success() {
				return fmt.Errorf("server replied %d", reply.Code)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging the config file, FTPCTL_*
environment variables and flags. The password is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := *configFile
			if file == "" {
				file = a.v.ConfigFileUsed()
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg.printable(file)); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}
}
