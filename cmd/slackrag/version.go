package main

import (
	"context"
	"fmt"

	"github.com/a-h/slackrag"
)

type VersionCommand struct {
}

func (c VersionCommand) Run(ctx context.Context) (err error) {
	fmt.Println(slackrag.Version)
	return nil
}
