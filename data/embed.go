package data

import "embed"

var (
	//go:embed knowledge.yaml
	Knowledge embed.FS
)
