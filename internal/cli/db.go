package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vk/forgegrid/internal/audit"
)

// dbFilters holds the --older-than/--newer-than/--package/--endpoint/
// --commit/--limit flags shared across the "db" subcommand family.
type dbFilters struct {
	olderThan string
	newerThan string
	pkg       string
	endpoint  string
	commit    string
	limit     int
}

func (f *dbFilters) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.olderThan, "older-than", "", "only rows older than this date or age")
	cmd.Flags().StringVar(&f.newerThan, "newer-than", "", "only rows newer than this date or age")
	cmd.Flags().StringVar(&f.pkg, "package", "", "filter by package name")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "filter by endpoint name")
	cmd.Flags().StringVar(&f.commit, "commit", "", "filter by repo commit hash")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "limit the number of rows returned, 0 for unlimited")
}

func (f *dbFilters) since() (time.Time, error) { return parseDate(f.newerThan) }
func (f *dbFilters) until() (time.Time, error) { return parseDate(f.olderThan) }

func newDbCommand(appOf appProvider) *cobra.Command {
	root := &cobra.Command{
		Use:   "db",
		Short: "query or administer the audit store",
	}

	root.AddCommand(
		newDbSetupCommand(appOf),
		newDbSubmitCommand(appOf),
		newDbSubmitsCommand(appOf),
		newDbJobsCommand(appOf),
		newDbLogOfCommand(appOf),
		newDbReleasesCommand(appOf),
	)
	return root
}

func newDbSetupCommand(appOf appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "create the audit store's schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			if err := a.DbSetup(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func newDbSubmitCommand(appOf appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <uuid>",
		Short: "print one submit and every job it produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("db submit: %v", err)}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			detail, err := a.GetSubmit(cmd.Context(), id)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s@%s\n", detail.UUID, detail.SubmitTime.Format("2006-01-02 15:04:05"), detail.RequestedImage, detail.RequestedPackage, detail.RequestedVersion)
			for _, j := range detail.Jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s@%s\t%s\t%s\n", j.UUID, j.PackageName, j.PackageVersion, j.Endpoint, j.Status)
			}
			return nil
		},
	}
}

func newDbSubmitsCommand(appOf appProvider) *cobra.Command {
	f := &dbFilters{}
	var image string
	cmd := &cobra.Command{
		Use:   "submits",
		Short: "list submits matching the given filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := f.since()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			until, err := f.until()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			rows, err := a.ListSubmits(cmd.Context(), audit.ListSubmitsFilter{
				Commit: f.commit, Image: image, Package: f.pkg, Since: since, Until: until, Limit: f.limit,
			})
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			for _, s := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s@%s\n", s.UUID, s.SubmitTime.Format("2006-01-02 15:04:05"), s.RequestedImage, s.RequestedPackage, s.RequestedVersion)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&image, "image", "", "filter by requested image")
	return cmd
}

func newDbJobsCommand(appOf appProvider) *cobra.Command {
	f := &dbFilters{}
	var image string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "list jobs matching the given filters, across every submit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := f.since()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			until, err := f.until()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			rows, err := a.ListJobs(cmd.Context(), audit.ListJobsFilter{
				Package: f.pkg, Endpoint: f.endpoint, Image: image, Since: since, Until: until, Limit: f.limit,
			})
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			for _, j := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s@%s\t%s\t%s\n", j.SubmitUUID, j.UUID, j.PackageName, j.PackageVersion, j.Endpoint, j.Status)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&image, "image", "", "filter by image")
	return cmd
}

func newDbLogOfCommand(appOf appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "log-of <uuid>",
		Short: "print one job's accumulated log text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("db log-of: %v", err)}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			logText, err := a.GetJobLog(cmd.Context(), id)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprint(cmd.OutOrStdout(), logText)
			return nil
		},
	}
}

func newDbReleasesCommand(appOf appProvider) *cobra.Command {
	f := &dbFilters{}
	var to string
	cmd := &cobra.Command{
		Use:   "releases",
		Short: "list releases matching the given filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := f.since()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			until, err := f.until()
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			rows, err := a.ListReleases(cmd.Context(), audit.ListReleasesFilter{
				Package: f.pkg, Store: to, Since: since, Until: until, Limit: f.limit,
			})
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.ArtifactPath, r.ReleaseDate.Format("2006-01-02"), r.StoreName)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "filter by release store")
	return cmd
}
