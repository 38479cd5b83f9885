// Command helper is the program the end-to-end tests run inside the new
// root. Its first argument selects what it reports.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: helper <mode> [args...]")
		os.Exit(2)
	}
	args := os.Args[2:]

	switch os.Args[1] {
	case "print":
		fmt.Println(strings.Join(args, " "))
	case "stderr":
		fmt.Fprintln(os.Stderr, strings.Join(args, " "))
	case "pid":
		fmt.Println(os.Getpid())
	case "env":
		fmt.Println(len(os.Environ()))
	case "hostname":
		var uts unix.Utsname
		if err := unix.Uname(&uts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(unix.ByteSliceToString(uts.Nodename[:]))
	case "sethostname":
		if err := unix.Sethostname([]byte("changed")); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println("ok")
	case "echo":
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "exit":
		code, err := strconv.Atoi(strings.Join(args, ""))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(code)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", os.Args[1])
		os.Exit(2)
	}
}
