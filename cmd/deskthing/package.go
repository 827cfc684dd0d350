package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator/supervisor"
	"github.com/deskthing-dev/deskthing/internal/release"
)

func packageCmd() *cobra.Command {
	var (
		outDir string
		upload bool
		bucket string
		region string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Package the built app into a release archive",
		Long: `Zips the app's dist directory together with its manifest, writes
release metadata with a sha256 checksum, and optionally uploads both to
an S3 bucket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackage(outDir, upload, bucket, region, prefix)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "release", "output directory for the archive")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the release to S3 after packaging")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket for --upload")
	cmd.Flags().StringVar(&region, "region", "", "S3 region for --upload (defaults to AWS_REGION)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "S3 key prefix for --upload")

	return cmd
}

func runPackage(outDir string, upload bool, bucket, region, prefix string) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	manifest, err := supervisor.LoadManifest(cfg.Dir())
	if err != nil {
		return err
	}

	info("packaging %s...", manifest.ID)
	artifact, err := release.Package(cfg.Dir(), outDir, manifest)
	if err != nil {
		return err
	}

	success("packaged %s", artifact.ArchivePath)
	info("version: %s", artifact.Metadata.Version)
	info("sha256:  %s", artifact.Metadata.SHA256)
	info("size:    %d bytes", artifact.Metadata.Size)

	if !upload {
		return nil
	}

	uploader, err := release.NewUploader(release.UploaderOptions{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	info("uploading to s3://%s...", bucket)
	if err := uploader.Upload(ctx, artifact); err != nil {
		return err
	}
	success("release uploaded")
	return nil
}
