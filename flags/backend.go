package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// BackendFlags configures the blob storage backend used by snapshots and
// the archive.
func BackendFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "backend.kind",
			Usage: "Blob storage backend (filesystem|s3)",
			Value: "filesystem",
		},
		cli.StringFlag{
			Name:  "backend.dir",
			Usage: "Root directory of the filesystem backend (defaults to <datadir>/blobs)",
		},
		cli.StringFlag{
			Name:  "s3.endpoint",
			Usage: "S3 endpoint host:port",
		},
		cli.StringFlag{
			Name:  "s3.bucket",
			Usage: "S3 bucket name",
			Value: "veridian",
		},
		cli.StringFlag{
			Name:  "s3.accesskey",
			Usage: "S3 access key ID",
		},
		cli.StringFlag{
			Name:  "s3.secretkey",
			Usage: "S3 secret access key",
		},
		cli.BoolTFlag{
			Name:  "s3.secure",
			Usage: "Use TLS for S3 connections",
		},
	}
}
