package shell

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pitabwire/sarvekshan/internal/navigation"
	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/internal/profile"
	"github.com/pitabwire/sarvekshan/internal/survey"
	"github.com/pitabwire/sarvekshan/model"
)

type command struct {
	usage   string
	help    string
	minArgs int
	quit    bool
	run     func(ctx context.Context, s *Shell, args []string) error
}

var commands map[string]command

// helpOrder lists commands in the order help prints them.
var helpOrder = []string{
	"phone", "otp", "resend", "change-number",
	"tab", "surveys", "start", "facility", "answer", "progress", "save", "submit", "discard",
	"history", "calendar", "view", "back",
	"profile", "logout", "state", "help", "quit",
}

func init() {
	commands = map[string]command{
		"phone":         {usage: "phone <number>", help: "send a one-time code to a 10-digit phone number", minArgs: 1, run: cmdPhone},
		"otp":           {usage: "otp <code>", help: "verify the 6-digit code", minArgs: 1, run: cmdOTP},
		"resend":        {usage: "resend", help: "send a new code once the countdown has expired", run: cmdResend},
		"change-number": {usage: "change-number", help: "go back to phone entry", run: cmdChangeNumber},
		"tab":           {usage: "tab <survey|history|profile>", help: "switch the main view tab", minArgs: 1, run: cmdTab},
		"surveys":       {usage: "surveys [query]", help: "list surveys, optionally filtered by id, name or description", run: cmdSurveys},
		"start":         {usage: "start <survey-id>", help: "open a survey, resuming its saved draft", minArgs: 1, run: cmdStart},
		"facility":      {usage: "facility <code>", help: "enter the 11-digit facility code", minArgs: 1, run: cmdFacility},
		"answer":        {usage: "answer <question-id> <value...>", help: "answer a question", minArgs: 1, run: cmdAnswer},
		"progress":      {usage: "progress", help: "show answers and missing required questions", run: cmdProgress},
		"save":          {usage: "save", help: "save the draft and leave the survey", run: cmdSave},
		"submit":        {usage: "submit", help: "submit the open survey", run: cmdSubmit},
		"discard":       {usage: "discard", help: "discard the open survey and its saved draft", run: cmdDiscard},
		"history":       {usage: "history [YYYY-MM-DD]", help: "list submitted responses, optionally for one day", run: cmdHistory},
		"calendar":      {usage: "calendar YYYY-MM", help: "show the days of a month with submissions", minArgs: 1, run: cmdCalendar},
		"view":          {usage: "view <record-id>", help: "review a submitted response", minArgs: 1, run: cmdView},
		"back":          {usage: "back", help: "leave the response under review", run: cmdBack},
		"profile":       {usage: "profile [set <field> <value...> | save | cancel | regions]", help: "show or edit your profile (name, gender, state, district)", run: cmdProfile},
		"logout":        {usage: "logout", help: "sign out", run: cmdLogout},
		"state":         {usage: "state", help: "show where you are", run: cmdState},
		"help":          {usage: "help", help: "list commands", run: cmdHelp},
		"quit":          {usage: "quit", help: "leave the shell", quit: true},
	}
}

// --- Login ---

func cmdPhone(ctx context.Context, s *Shell, args []string) error {
	if err := s.c.SubmitPhone(ctx, args[0]); err != nil {
		return err
	}
	_, remaining := s.c.LoginState()
	s.printf("code sent to %s; resend available in %ds\n", observability.MaskPhone(args[0]), remaining)
	return nil
}

func cmdOTP(ctx context.Context, s *Shell, args []string) error {
	if err := s.c.SubmitOTP(ctx, args[0]); err != nil {
		return err
	}
	if session, ok := s.c.Session(); ok {
		s.printf("signed in as %s\n", observability.MaskPhone(session.Phone))
	}
	return nil
}

func cmdResend(ctx context.Context, s *Shell, _ []string) error {
	_, before := s.c.LoginState()
	if err := s.c.ResendOTP(ctx); err != nil {
		return err
	}
	if before > 0 {
		s.printf("resend available in %ds\n", before)
		return nil
	}
	s.println("code resent")
	return nil
}

func cmdChangeNumber(_ context.Context, s *Shell, _ []string) error {
	if err := s.c.ChangeNumber(); err != nil {
		return err
	}
	s.println("enter a new phone number")
	return nil
}

// --- Main view ---

func cmdTab(_ context.Context, s *Shell, args []string) error {
	tab, err := navigation.ParseTab(args[0])
	if err != nil {
		return err
	}
	if err := s.c.SelectTab(tab); err != nil {
		return err
	}
	s.printf("tab: %s\n", tab)
	if tab == navigation.TabProfile {
		if session, ok := s.c.Session(); ok {
			s.printf("phone: %s\n", observability.MaskPhone(session.Phone))
		}
	}
	return nil
}

func cmdSurveys(ctx context.Context, s *Shell, args []string) error {
	list, err := s.c.SearchSurveys(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.println("no surveys match")
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFACILITY")
	for _, sum := range list {
		status := "new"
		if sum.Started {
			status = "started " + percent(sum.Progress)
		}
		facility := "-"
		if sum.Survey.FacilityGated {
			facility = "required"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sum.Survey.ID, sum.Survey.Name, status, facility)
	}
	return w.Flush()
}

// --- Survey ---

func cmdStart(ctx context.Context, s *Shell, args []string) error {
	flow, err := s.c.StartSurvey(ctx, args[0])
	if err != nil {
		return err
	}
	def := flow.Survey()
	s.printf("%s (%s)\n", def.Name, def.ID)
	if def.Description != "" {
		s.println(def.Description)
	}
	printQuestions(s, flow)
	if flow.State() == survey.StateFacilityEntry {
		s.println("enter the facility code with: facility <code>")
	}
	return nil
}

func cmdFacility(_ context.Context, s *Shell, args []string) error {
	if err := s.c.EnterFacilityCode(args[0]); err != nil {
		return err
	}
	s.println("facility code accepted")
	return nil
}

func cmdAnswer(_ context.Context, s *Shell, args []string) error {
	value := strings.Join(args[1:], " ")
	if err := s.c.Answer(args[0], value); err != nil {
		return err
	}
	flow, err := s.c.ActiveSurvey()
	if err != nil {
		return err
	}
	s.printf("progress %s\n", percent(flow.Progress()))
	return nil
}

func cmdProgress(_ context.Context, s *Shell, _ []string) error {
	flow, err := s.c.ActiveSurvey()
	if err != nil {
		return err
	}
	printQuestions(s, flow)
	s.printf("progress %s\n", percent(flow.Progress()))
	if missing := flow.Missing(); len(missing) > 0 {
		ids := make([]string, len(missing))
		for i, q := range missing {
			ids[i] = q.ID
		}
		s.printf("missing: %s\n", strings.Join(ids, ", "))
	}
	return nil
}

func cmdSave(ctx context.Context, s *Shell, _ []string) error {
	if err := s.c.SuspendSurvey(ctx); err != nil {
		return err
	}
	s.println("draft saved")
	return nil
}

func cmdSubmit(ctx context.Context, s *Shell, _ []string) error {
	rec, err := s.c.SubmitSurvey(ctx)
	if err != nil {
		return err
	}
	if rec.ID != "" {
		s.printf("submitted record %s\n", rec.ID)
	}
	return nil
}

func cmdDiscard(ctx context.Context, s *Shell, _ []string) error {
	if err := s.c.DiscardSurvey(ctx); err != nil {
		return err
	}
	s.println("survey discarded")
	return nil
}

// --- History ---

func cmdHistory(ctx context.Context, s *Shell, args []string) error {
	var (
		records []model.HistoricalRecord
		err     error
	)
	if len(args) > 0 {
		day, perr := time.Parse(time.DateOnly, args[0])
		if perr != nil {
			return usageError("date", "date must be YYYY-MM-DD")
		}
		records, err = s.c.HistoryOn(ctx, day)
	} else {
		records, err = s.c.History(ctx)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		s.println("no responses")
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSURVEY\tFACILITY\tCOMPLETED")
	for _, rec := range records {
		facility := rec.FacilityCode
		if facility == "" {
			facility = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, rec.SurveyName, facility, rec.CompletedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func cmdCalendar(ctx context.Context, s *Shell, args []string) error {
	month, err := time.Parse("2006-01", args[0])
	if err != nil {
		return usageError("month", "month must be YYYY-MM")
	}
	days, err := s.c.CompletionDays(ctx, month.Year(), month.Month())
	if err != nil {
		return err
	}
	if len(days) == 0 {
		s.printf("no submissions in %s\n", month.Format("January 2006"))
		return nil
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = fmt.Sprint(d)
	}
	s.printf("%s: %s\n", month.Format("January 2006"), strings.Join(parts, " "))
	return nil
}

func cmdView(ctx context.Context, s *Shell, args []string) error {
	if err := s.c.ViewRecord(ctx, args[0]); err != nil {
		return err
	}
	review, ok := s.c.State().(navigation.ResponseReview)
	if !ok {
		return nil
	}
	rec := review.Record
	s.printf("%s (%s)\n", rec.SurveyName, rec.ID)
	s.printf("completed %s\n", rec.CompletedAt.Format(time.DateTime))
	if rec.FacilityCode != "" {
		s.printf("facility %s\n", rec.FacilityCode)
	}
	keys := make([]string, 0, len(rec.Answers))
	for k := range rec.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.printf("  %s: %s\n", k, rec.Answers[k])
	}
	return nil
}

func cmdBack(_ context.Context, s *Shell, _ []string) error {
	if err := s.c.Back(); err != nil {
		return err
	}
	s.println("tab: history")
	return nil
}

// --- Profile ---

func cmdProfile(ctx context.Context, s *Shell, args []string) error {
	if len(args) == 0 {
		return showProfile(ctx, s)
	}
	switch args[0] {
	case "regions":
		regions := s.c.Regions()
		if len(regions) == 0 {
			s.println("no regions configured")
			return nil
		}
		for _, r := range regions {
			ids := make([]string, len(r.Districts))
			for i, d := range r.Districts {
				ids[i] = d.ID
			}
			s.printf("%s (%s): %s\n", r.ID, r.Name, strings.Join(ids, ", "))
		}
		return nil
	case "set":
		if len(args) < 3 {
			return usageError("args", "usage: profile set <field> <value...>")
		}
		current := s.editing
		if current == nil {
			saved, err := s.c.Profile(ctx)
			if err != nil {
				return err
			}
			current = &saved
		}
		next, err := profile.Apply(*current, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		s.editing = &next
		s.printf("%s set (unsaved)\n", args[1])
		return nil
	case "save":
		if s.editing == nil {
			return usageError("args", "no profile changes to save")
		}
		if _, err := s.c.UpdateProfile(ctx, *s.editing); err != nil {
			return err
		}
		s.editing = nil
		s.println("profile saved")
		return nil
	case "cancel":
		s.editing = nil
		s.println("profile changes discarded")
		return nil
	}
	return usageError("args", "usage: "+commands["profile"].usage)
}

func showProfile(ctx context.Context, s *Shell) error {
	p, err := s.c.Profile(ctx)
	if err != nil {
		return err
	}
	state, district := p.State, p.District
	for _, r := range s.c.Regions() {
		if r.ID != p.State {
			continue
		}
		state = r.Name
		if d, ok := r.District(p.District); ok {
			district = d.Name
		}
	}
	s.printf("name: %s\n", orDash(p.Name))
	s.printf("gender: %s\n", orDash(string(p.Gender)))
	s.printf("state: %s\n", orDash(state))
	s.printf("district: %s\n", orDash(district))
	if s.editing != nil {
		s.println("unsaved changes; use profile save or profile cancel")
	}
	return nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// --- Session ---

func cmdLogout(_ context.Context, s *Shell, _ []string) error {
	if err := s.c.Logout(); err != nil {
		return err
	}
	s.editing = nil
	s.println("signed out")
	return nil
}

func cmdState(_ context.Context, s *Shell, _ []string) error {
	switch st := s.c.State().(type) {
	case navigation.Unauthenticated:
		login, remaining := s.c.LoginState()
		s.printf("%s (%s, resend in %ds)\n", st.Name(), login, remaining)
	case navigation.MainView:
		s.printf("%s (tab %s)\n", st.Name(), st.ActiveTab)
	case navigation.SurveyInProgress:
		s.printf("%s (%s, %s, %s)\n", st.Name(), st.Survey.ID, st.Flow.State(), percent(st.Flow.Progress()))
	case navigation.ResponseReview:
		s.printf("%s (%s)\n", st.Name(), st.Record.ID)
	}
	return nil
}

func cmdHelp(_ context.Context, s *Shell, _ []string) error {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range helpOrder {
		cmd := commands[name]
		fmt.Fprintf(w, "%s\t%s\n", cmd.usage, cmd.help)
	}
	return w.Flush()
}

func printQuestions(s *Shell, flow *survey.Flow) {
	def := flow.Survey()
	answers := flow.Answers()
	for i, q := range def.Questions {
		marker := " "
		if q.Required {
			marker = "*"
		}
		line := fmt.Sprintf("%2d.%s %s [%s] %s", i+1, marker, q.ID, q.Kind, q.Prompt)
		if len(q.Choices) > 0 {
			line += " (" + strings.Join(q.Choices, " / ") + ")"
		}
		if v, ok := answers[q.ID]; ok {
			line += " = " + v
		}
		s.println(line)
	}
}

func percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}
