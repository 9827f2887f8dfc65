package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/crowdfund/internal/bootstrap"
	"github.com/prn-tf/crowdfund/internal/service"
)

func runUser(ctx context.Context, app *bootstrap.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user: missing subcommand (create, show, add-points, spend-points)")
	}

	switch args[0] {
	case "create":
		return userCreate(ctx, app, args[1:])
	case "show":
		return userShow(ctx, app, args[1:])
	case "add-points":
		return userPoints(ctx, app, args[1:], app.Users.AddPoints)
	case "spend-points":
		return userPoints(ctx, app, args[1:], app.Users.SpendPoints)
	default:
		return fmt.Errorf("user: unknown subcommand %q", args[0])
	}
}

func userCreate(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("user create", flag.ContinueOnError)
	username := fs.String("username", "", "login name (3-255 characters)")
	email := fs.String("email", "", "email address")
	nickname := fs.String("nickname", "", "display name, defaults to the username")
	password := fs.String("password", "", "password (at least 8 characters)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := app.Users.Register(ctx, service.RegisterInput{
		Username: *username,
		Email:    *email,
		Nickname: *nickname,
		Password: *password,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created user %s (%s)\n", u.Username, u.ID)
	return nil
}

func userShow(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("user show", flag.ContinueOnError)
	id := fs.String("id", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	view, err := app.Users.Points(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("ID:        %s\n", view.ID)
	fmt.Printf("Username:  %s\n", view.Username)
	fmt.Printf("Nickname:  %s\n", view.Nickname)
	fmt.Printf("Points:    %d\n", view.Points)
	fmt.Printf("Donations: %d\n", len(view.Donations))
	for _, d := range view.Donations {
		fmt.Printf("  %s  %s  %d\n", d.Date.Format(dateLayout), d.ProjectID, d.Amount)
	}
	return nil
}

type pointsFunc func(ctx context.Context, id uuid.UUID, n int64) (int64, error)

func userPoints(ctx context.Context, app *bootstrap.App, args []string, apply pointsFunc) error {
	fs := flag.NewFlagSet("user points", flag.ContinueOnError)
	id := fs.String("id", "", "user id")
	points := fs.Int64("points", 0, "number of points")
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	balance, err := apply(ctx, userID, *points)
	if err != nil {
		return err
	}
	fmt.Printf("Balance: %d\n", balance)
	return nil
}
