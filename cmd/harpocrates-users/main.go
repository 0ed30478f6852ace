// Harpocrates-users manages the credential file read by the server and the
// host.
//
//	harpocrates-users [-users users.csv] add <identity>
//	harpocrates-users [-users users.csv] remove <identity>
//	harpocrates-users [-users users.csv] list
//
// Passwords are read from the terminal, or from HARPOCRATES_PASSWORD when
// stdin is not one.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/mowzhja/harpocrates/internal/auth"
	"github.com/mowzhja/harpocrates/internal/credential"
	"github.com/mowzhja/harpocrates/internal/util"
)

const passwordEnv = "HARPOCRATES_PASSWORD"

func main() {
	defaults := auth.DefaultParams(nil)
	file := flag.String("users", "users.csv", "Credential CSV file")
	timeCost := flag.Uint("time", uint(defaults.Time), "argon2id passes")
	memory := flag.Uint("memory", uint(defaults.Memory), "argon2id memory in KiB")
	threads := flag.Uint("threads", uint(defaults.Threads), "argon2id parallelism")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] add|remove <identity> | list\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := credential.Load(*file)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch {
	case args[0] == "list" && len(args) == 1:
		list(store)
		return

	case args[0] == "add" && len(args) == 2:
		params := auth.Params{Time: uint32(*timeCost), Memory: uint32(*memory), Threads: uint8(*threads)}
		err = add(store, args[1], params)

	case args[0] == "remove" && len(args) == 2:
		if !store.Delete(args[1]) {
			err = fmt.Errorf("no such identity %q", args[1])
		}

	default:
		flag.Usage()
		os.Exit(2)
	}

	if err == nil {
		err = store.Save(*file)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogSuccess("%s updated, %d users", *file, store.Len())
}

func add(store *credential.Store, identity string, params auth.Params) error {
	if _, exists := store.Lookup(identity); exists {
		util.LogWarning("replacing the credential of %q", identity)
	}
	password, err := newPassword()
	if err != nil {
		return err
	}
	defer clear(password)

	rec, err := credential.NewRecord(identity, password, params)
	if err != nil {
		return err
	}
	return store.Put(rec)
}

// newPassword reads a password twice from the terminal, or once from
// passwordEnv.
func newPassword() ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal, set " + passwordEnv)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(os.Stderr, "Repeat: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	defer clear(second)
	if err != nil {
		clear(first)
		return nil, err
	}
	if !bytes.Equal(first, second) {
		clear(first)
		return nil, errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return nil, errors.New("empty password")
	}
	return first, nil
}

func list(store *credential.Store) {
	data := pterm.TableData{{"Identity", "Time", "Memory (KiB)", "Threads"}}
	for _, rec := range store.Records() {
		data = append(data, []string{
			rec.Identity,
			strconv.FormatUint(uint64(rec.Params.Time), 10),
			strconv.FormatUint(uint64(rec.Params.Memory), 10),
			strconv.FormatUint(uint64(rec.Params.Threads), 10),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
