/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ikv "github.com/inlinedio/ikv-go"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: ikv-node <config.yaml>")
		os.Exit(1)
	}

	cfg, err := ikv.LoadConfig(os.Args[1])
	if err != nil {
		fmt.Println("loading config:", err)
		os.Exit(1)
	}

	facade, err := ikv.OpenFacade(cfg)
	if err != nil {
		fmt.Println("opening partition:", err)
		os.Exit(1)
	}
	defer facade.Close()

	consumer, err := ikv.NewConsumer(cfg, facade, facade.Offsets())
	if err != nil {
		fmt.Println("opening consumer:", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Println("consumer stopped:", err)
		os.Exit(1)
	}
}
