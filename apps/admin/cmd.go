package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/profile"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db              *sqlx.DB
	validate        *validator.Validate
	profileSvc      profile.Service
	distributionSvc distribution.Service
	out             io.Writer
}

func newValidation() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	return validate
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command: up, up-by-one, up-to, down, down-to, redo, reset, status, version")
	fmt.Fprintln(cli.out, "  addprofile -name NAME -email EMAIL -role ROLE [-institution ID] - create a profile, the password is prompted")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset a profile's password, the password is prompted")
	fmt.Fprintln(cli.out, "  plan -year YEAR -month MONTH - plan the distributions of a period for every eligible institution")
	fmt.Fprintln(cli.out, "  reconcile - reconcile the distributions pending settlement verification")
}

// promptPassword reads a password without echo. An empty answer is reported as errHelp.
func (cli *commandLine) promptPassword(label string, usage func()) (string, error) {
	fmt.Fprint(cli.out, label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addProfileCmd := flag.NewFlagSet("addprofile", flag.ContinueOnError)
	addProfileCmd.SetOutput(cli.out)
	addProfileName := addProfileCmd.String("name", "", "The profile's full name.")
	addProfileEmail := addProfileCmd.String("email", "", "The profile's email. The password will be prompted next.")
	addProfileRole := addProfileCmd.String("role", profile.RoleFoundationManager, "foundation_manager or school_manager.")
	addProfileInstitution := addProfileCmd.String("institution", "", "The managed institution's ID, for school managers.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The profile's email. The password will be prompted next.")

	planCmd := flag.NewFlagSet("plan", flag.ContinueOnError)
	planCmd.SetOutput(cli.out)
	current := core.PeriodOf(core.NowFunc())
	planYear := planCmd.Int("year", current.Year, "The period's year.")
	planMonth := planCmd.Int("month", current.Month, "The period's month.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addprofile":
		if err := addProfileCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addProfileName == "" || *addProfileEmail == "" {
			addProfileCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:", addProfileCmd.Usage)
		if err != nil {
			return err
		}
		return cli.addProfile(profile.NewProfile{
			Name:            *addProfileName,
			Email:           *addProfileEmail,
			Role:            *addProfileRole,
			InstitutionID:   *addProfileInstitution,
			Password:        pwd,
			PasswordConfirm: pwd,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:", resetPasswordCmd.Usage)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "plan":
		if err := planCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.plan(core.Period{Year: *planYear, Month: *planMonth})

	case "reconcile":
		return cli.reconcile()

	default:
		cli.printUsage()
		return errHelp
	}
}
