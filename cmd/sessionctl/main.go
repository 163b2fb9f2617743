// Command sessionctl manages the persisted session file used by
// appcore. Sign-in happens in the credential UI; this tool lets a
// developer import the resulting token pair, inspect what is stored,
// or clear it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/supabase/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "clear":
		err = runClear(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sessionctl <command> [flags]

commands:
  import   write a session file from an access/refresh token pair
  show     print the stored session
  clear    remove the session file`)
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("session-file", "session.json", "session file to write")
	accessToken := fs.String("access-token", "", "access token from the credential UI")
	refreshToken := fs.String("refresh-token", "", "refresh token from the credential UI")
	fs.Parse(args)

	if *accessToken == "" || *refreshToken == "" {
		return fmt.Errorf("both -access-token and -refresh-token are required")
	}

	sess := identity.Session{
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		ExpiresAt:    tokenExpiry(*accessToken),
	}

	// With backend credentials available, resolve the token owner so
	// the file carries the user id the engine expects.
	url, key := os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_ANON_KEY")
	if url != "" && key != "" {
		api, err := client.New(client.Config{URL: url, APIKey: key})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		user, err := api.Auth().GetUser(ctx, *accessToken)
		if err != nil {
			return fmt.Errorf("token rejected by backend: %w", err)
		}
		sess.UserID = user.ID
		sess.Email = user.Email
	} else {
		fmt.Fprintln(os.Stderr, "SUPABASE_URL / SUPABASE_ANON_KEY unset, skipping token validation")
		sess.UserID = tokenSubject(*accessToken)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*file, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	fmt.Printf("wrote %s (user %s, expires %s)\n", *file, sess.UserID, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	file := fs.String("session-file", "session.json", "session file to read")
	fs.Parse(args)

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("parse session file: %w", err)
	}

	fmt.Printf("user:    %s <%s>\n", sess.UserID, sess.Email)
	fmt.Printf("expires: %s", sess.ExpiresAt.Format(time.RFC3339))
	if time.Now().After(sess.ExpiresAt) {
		fmt.Print("  (expired, will refresh on next start)")
	}
	fmt.Println()
	return nil
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	file := fs.String("session-file", "session.json", "session file to remove")
	fs.Parse(args)

	if err := os.Remove(*file); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Printf("removed %s\n", *file)
	return nil
}

func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func tokenSubject(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
