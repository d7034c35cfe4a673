package main

import (
	"fmt"
	"io"
)

func runStartupProbe[C io.Closer](create func() (C, error)) error {
	conn, err := create()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close probe peer connection: %w", err)
	}
	return nil
}
