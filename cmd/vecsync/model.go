package main

import (
	"fmt"
	"os"

	"github.com/knights-analytics/hugot"
	"github.com/spf13/cobra"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage local embedding models",
	}
	cmd.AddCommand(modelDownloadCmd())
	return cmd
}

func modelDownloadCmd() *cobra.Command {
	var (
		dest     string
		onnxPath string
	)

	cmd := &cobra.Command{
		Use:   "download MODEL",
		Short: "Download a HuggingFace model for the local provider",
		Long: `Download a HuggingFace feature-extraction model into MODEL_DIR so that
vectorizers with embedding.implementation "local" can load it, for example:

  vecsync model download sentence-transformers/all-MiniLM-L6-v2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dest == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dest = cfg.ModelDir()
			}
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create model directory: %w", err)
			}

			opts := hugot.NewDownloadOptions()
			if onnxPath != "" {
				opts.OnnxFilePath = onnxPath
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloading %s to %s\n", args[0], dest)
			path, err := hugot.DownloadModel(args[0], dest, opts)
			if err != nil {
				return fmt.Errorf("download model: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "model downloaded to %s\n", path)
			return err
		},
	}

	cmd.Flags().StringVar(&dest, "dir", "", "Destination directory (default: MODEL_DIR)")
	cmd.Flags().StringVar(&onnxPath, "onnx-file", "", "ONNX weights path inside the repository, e.g. onnx/model.onnx")

	return cmd
}
