package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/crowdfund/internal/bootstrap"
	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/repository"
	"github.com/prn-tf/crowdfund/internal/service"
)

const dateLayout = "2006-01-02"

func runProject(ctx context.Context, app *bootstrap.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("project: missing subcommand (create, show, list, donate, complete)")
	}

	switch args[0] {
	case "create":
		return projectCreate(ctx, app, args[1:])
	case "show":
		return projectShow(ctx, app, args[1:])
	case "list":
		return projectList(ctx, app, args[1:])
	case "donate":
		return projectDonate(ctx, app, args[1:])
	case "complete":
		return projectComplete(ctx, app, args[1:])
	default:
		return fmt.Errorf("project: unknown subcommand %q", args[0])
	}
}

func projectCreate(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("project create", flag.ContinueOnError)
	name := fs.String("name", "", "project name")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	location := fs.String("location", "", "location name")
	province := fs.String("province", "", "province")
	population := fs.Int64("population", 0, "location population")
	factor := fs.Int("factor", 0, "funding factor (0-100000)")
	minClose := fs.Float64("min-close", 0, "minimum close percentage (0-100)")
	target := fs.Int64("target", 0, "target funds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	startDate, err := parseDate("start", *start)
	if err != nil {
		return err
	}
	endDate, err := parseDate("end", *end)
	if err != nil {
		return err
	}

	input := service.CreateProjectInput{
		Name:      *name,
		StartDate: startDate,
		EndDate:   endDate,
		Location:  domain.Location{Name: *location, Province: *province, Population: *population},
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "factor":
			input.Factor = factor
		case "min-close":
			input.MinClosePercentage = minClose
		case "target":
			input.TargetFunds = target
		}
	})

	project, err := app.Funding.CreateProject(ctx, input)
	if err != nil {
		return err
	}
	printProgress(service.NewProjectProgress(project))
	return nil
}

func projectShow(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("project show", flag.ContinueOnError)
	id := fs.String("id", "", "project id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	projectID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	project, err := app.Funding.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	printProgress(service.NewProjectProgress(project))

	donations := project.Donations()
	if len(donations) == 0 {
		return nil
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DONATION\tUSER\tAMOUNT\tDATE\tCOMMENT")
	for _, d := range donations {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.ID(), d.UserID(), d.Amount(), d.Date().Format(dateLayout), d.Comment())
	}
	return tw.Flush()
}

func projectList(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("project list", flag.ContinueOnError)
	offset := fs.Int("offset", 0, "records to skip")
	limit := fs.Int("limit", 50, "maximum records to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := app.Funding.ListProjects(ctx, repository.ListOptions{Offset: *offset, Limit: *limit})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tRAISED\tTARGET\tEND")
	for _, p := range result.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			p.ID(), p.Name(), p.State(), p.RaisedFunds(), p.TargetFunds(), p.EndDate().Format(dateLayout))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d projects\n", len(result.Items), result.Total)
	return nil
}

func projectDonate(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("project donate", flag.ContinueOnError)
	id := fs.String("id", "", "project id")
	user := fs.String("user", "", "donor user id")
	amount := fs.Int64("amount", 0, "amount to donate")
	comment := fs.String("comment", "", "optional comment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	projectID, err := parseID("id", *id)
	if err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}

	out, err := app.Funding.Donate(ctx, service.DonateInput{
		ProjectID: projectID,
		UserID:    userID,
		Amount:    *amount,
		Comment:   *comment,
	})
	if err != nil {
		return err
	}

	if !out.Accepted {
		fmt.Printf("Project is %s and no longer accepts donations; nothing recorded.\n", out.State.DisplayName())
		return nil
	}
	fmt.Printf("Donation:       %s\n", out.Donation.ID())
	fmt.Printf("Points awarded: %d\n", out.PointsAwarded)
	fmt.Printf("Balance:        %d\n", out.Balance)
	return nil
}

func projectComplete(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("project complete", flag.ContinueOnError)
	id := fs.String("id", "", "project id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	projectID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	out, err := app.Funding.CompleteProject(ctx, projectID)
	if err != nil {
		return err
	}
	if out.Changed() {
		fmt.Printf("Project moved from %s to %s\n", out.Previous.DisplayName(), out.State.DisplayName())
	} else {
		fmt.Printf("Project stays %s\n", out.State.DisplayName())
	}
	return nil
}

func runSweep(ctx context.Context, app *bootstrap.App) error {
	result, err := app.Closing.RunOnce(ctx)
	if err != nil {
		return err
	}
	if result.LockHeld {
		fmt.Println("Another sweep is running; nothing done.")
		return nil
	}
	fmt.Printf("Evaluated: %d\nConnected: %d\nSuspended: %d\nSkipped:   %d\nErrors:    %d\n",
		result.Evaluated, result.Connected, result.Suspended, result.Skipped, result.Errors)
	return nil
}

func printProgress(p *service.ProjectProgress) {
	fmt.Printf("ID:           %s\n", p.ID)
	fmt.Printf("Name:         %s\n", p.Name)
	fmt.Printf("State:        %s\n", p.StateName)
	fmt.Printf("Dates:        %s to %s\n", p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout))
	fmt.Printf("Location:     %s, %s (population %d)\n", p.Location.Name, p.Location.Province, p.Location.Population)
	fmt.Printf("Raised:       %d of %d (%.2f%%, %.2f%% missing)\n", p.RaisedFunds, p.TargetFunds, p.AccumulatedPercentage, p.MissingPercentage)
	fmt.Printf("Participants: %d\n", p.Participants)
	fmt.Printf("Donations:    %d\n", p.Donations)
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: expected YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-%s: invalid id %q", name, value)
	}
	return id, nil
}
