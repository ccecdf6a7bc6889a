package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/client"
	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/daemon"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/pkg/clog"
	"github.com/taskdock/taskdock/pkg/sentinel"
)

var (
	app = kingpin.New("taskdock", "Coding agent orchestration daemon and CLI")

	// Daemon commands
	startCmd  = app.Command("start", "Start the taskdock daemon")
	startAddr = startCmd.Flag("addr", "Address to bind to, overrides TASKDOCK_HTTP_HOST").String()
	startPort = startCmd.Flag("port", "Port to bind to, overrides TASKDOCK_HTTP_PORT").String()

	sentinelCmd = app.Command("sentinel", "Supervise the daemon with automatic restart on crash or binary update")

	// Task commands
	createCmd      = app.Command("create", "Create a new task")
	createTitle    = createCmd.Arg("title", "Task title").Required().String()
	createDesc     = createCmd.Flag("description", "Task description").Short('d').String()
	createType     = createCmd.Flag("type", "Task type").Default("task").String()
	createPriority = createCmd.Flag("priority", "Task priority").Default("0").Int()
	createProject  = createCmd.Flag("project", "Project path for the task workspace").String()

	listCmd    = app.Command("list", "List tasks")
	listStatus = listCmd.Flag("status", "Filter by status").String()

	showCmd = app.Command("show", "Show task details")
	showID  = showCmd.Arg("id", "Task ID").Required().String()

	runCmd = app.Command("run", "Start a run for a task")
	runID  = runCmd.Arg("id", "Task ID").Required().String()

	stopCmd    = app.Command("stop", "Stop the active run of a task")
	stopID     = stopCmd.Arg("id", "Task ID").Required().String()
	stopCancel = stopCmd.Flag("cancel", "Cancel the task instead of pausing it").Bool()

	resumeCmd = app.Command("resume", "Resume a paused or cancelled task")
	resumeID  = resumeCmd.Arg("id", "Task ID").Required().String()

	assignCmd     = app.Command("assign", "Assign an agent to a task")
	assignTaskID  = assignCmd.Arg("id", "Task ID").Required().String()
	assignAgentID = assignCmd.Arg("agent", "Agent ID").Required().String()

	finishCmd = app.Command("finish", "Mark a reviewed task as done")
	finishID  = finishCmd.Arg("id", "Task ID").Required().String()

	terminalCmd    = app.Command("terminal", "Show the log tail of a task")
	terminalID     = terminalCmd.Arg("id", "Task ID").Required().String()
	terminalLines  = terminalCmd.Flag("lines", "Number of lines to show").Short('n').Default("100").Int()
	terminalPretty = terminalCmd.Flag("pretty", "Reformat shell commands in the output").Default("true").Bool()

	// Workspace commands
	diffCmd = app.Command("diff", "Show the workspace diff of a task")
	diffID  = diffCmd.Arg("id", "Task ID").Required().String()

	mergeCmd = app.Command("merge", "Merge a task branch back into its base branch")
	mergeID  = mergeCmd.Arg("id", "Task ID").Required().String()

	discardCmd = app.Command("discard", "Discard a task workspace and its branch")
	discardID  = discardCmd.Arg("id", "Task ID").Required().String()

	worktreesCmd = app.Command("worktrees", "List tracked task worktrees")

	// Agent commands
	agentCmd = app.Command("agent", "Agent management commands")

	agentCreateCmd      = agentCmd.Command("create", "Register a new agent")
	agentCreateRole     = agentCreateCmd.Arg("role", "Agent role").Required().String()
	agentCreateProvider = agentCreateCmd.Flag("provider", "Execution provider for the agent").Required().String()

	agentListCmd = agentCmd.Command("list", "List registered agents")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case startCmd.FullCommand():
		runDaemon()
	case sentinelCmd.FullCommand():
		runSentinel()
	default:
		runClientCommand(command)
	}
}

func runDaemon() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		fatal(err)
	}
	if *startAddr != "" {
		env.HTTPHost = *startAddr
	}
	if *startPort != "" {
		env.HTTPPort = *startPort
	}
	d, err := daemon.New(ctx, env)
	if err != nil {
		fatal(err)
	}
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		fatal(err)
	}
}

func runSentinel() {
	env, err := config.LoadEnv()
	if err != nil {
		fatal(err)
	}
	logger := slog.New(clog.NewTextHandler(os.Stderr, clog.WithLevel(env.SlogLevel())))
	if err := sentinel.Run(logger); err != nil {
		fatal(err)
	}
}

func runClientCommand(command string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		fatal(err)
	}
	host := env.HTTPHost
	if host == "" {
		host = "localhost"
	}
	c := client.New(fmt.Sprintf("http://%s:%s", host, env.HTTPPort))

	switch command {
	case createCmd.FullCommand():
		t, err := c.CreateTask(ctx, &task.CreateRequest{
			Title:       *createTitle,
			Description: *createDesc,
			Type:        *createType,
			Priority:    *createPriority,
			ProjectPath: *createProject,
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Created task %s\n", color.CyanString(t.ID))

	case listCmd.FullCommand():
		tasks, err := c.ListTasks(ctx, *listStatus)
		if err != nil {
			fatal(err)
		}
		printTaskTable(tasks)

	case showCmd.FullCommand():
		t, err := c.GetTask(ctx, *showID)
		if err != nil {
			fatal(err)
		}
		printTask(t)

	case runCmd.FullCommand():
		t, err := c.RunTask(ctx, *runID)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Task %s is now %s\n", color.CyanString(t.ID), statusColor(t.Status))

	case stopCmd.FullCommand():
		mode := "pause"
		if *stopCancel {
			mode = "cancel"
		}
		t, err := c.StopTask(ctx, *stopID, mode)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Task %s is now %s\n", color.CyanString(t.ID), statusColor(t.Status))

	case resumeCmd.FullCommand():
		t, err := c.ResumeTask(ctx, *resumeID)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Task %s is now %s\n", color.CyanString(t.ID), statusColor(t.Status))

	case assignCmd.FullCommand():
		t, err := c.AssignTask(ctx, *assignTaskID, *assignAgentID)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Assigned agent %s to task %s\n", color.CyanString(t.AssignedAgentID), color.CyanString(t.ID))

	case finishCmd.FullCommand():
		t, err := c.FinishTask(ctx, *finishID)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Task %s is now %s\n", color.CyanString(t.ID), statusColor(t.Status))

	case terminalCmd.FullCommand():
		view, err := c.Terminal(ctx, *terminalID, *terminalLines, *terminalPretty)
		if err != nil {
			fatal(err)
		}
		if !view.Exists {
			fmt.Println("No output for this task yet.")
			return
		}
		fmt.Println(view.Text)

	case diffCmd.FullCommand():
		d, err := c.Diff(ctx, *diffID)
		if err != nil {
			fatal(err)
		}
		if !d.HasWorktree {
			fmt.Println("No worktree for this task.")
			return
		}
		if d.Stat != "" {
			fmt.Println(d.Stat)
		}
		if d.Patch != "" {
			fmt.Println(d.Patch)
		}

	case mergeCmd.FullCommand():
		result, err := c.Merge(ctx, *mergeID)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Merged %s (%s)\n", color.GreenString(result.Branch), result.CommitSHA)
		if result.AutoCommit {
			fmt.Println("Uncommitted workspace changes were committed before merging.")
		}

	case discardCmd.FullCommand():
		if err := c.Discard(ctx, *discardID); err != nil {
			fatal(err)
		}
		fmt.Printf("Discarded workspace for task %s\n", color.CyanString(*discardID))

	case worktreesCmd.FullCommand():
		infos, err := c.ListWorktrees(ctx)
		if err != nil {
			fatal(err)
		}
		if len(infos) == 0 {
			fmt.Println("No worktrees.")
			return
		}
		for _, info := range infos {
			marker := color.GreenString("ok")
			if !info.Exists {
				marker = color.RedString("missing")
			}
			fmt.Printf("%-28s %-32s %s (%s)\n", info.TaskID, info.BranchName, info.WorktreePath, marker)
		}

	case agentCreateCmd.FullCommand():
		a, err := c.CreateAgent(ctx, &agent.CreateRequest{
			Role:        *agentCreateRole,
			CLIProvider: *agentCreateProvider,
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Created agent %s (%s)\n", color.CyanString(a.ID), a.Role)

	case agentListCmd.FullCommand():
		agents, err := c.ListAgents(ctx)
		if err != nil {
			fatal(err)
		}
		if len(agents) == 0 {
			fmt.Println("No agents.")
			return
		}
		fmt.Printf("%-28s %-12s %-10s %s\n", "ID", "ROLE", "STATUS", "PROVIDER")
		for _, a := range agents {
			fmt.Printf("%-28s %-12s %-10s %s\n", a.ID, a.Role, agentStatusColor(a.Status), a.CLIProvider)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func printTaskTable(tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	fmt.Printf("%-28s %-12s %-8s %s\n", "ID", "STATUS", "TYPE", "TITLE")
	for _, t := range tasks {
		fmt.Printf("%-28s %-12s %-8s %s\n", t.ID, statusColor(t.Status), t.Type, t.Title)
	}
}

func printTask(t *task.Task) {
	fmt.Printf("ID:          %s\n", color.CyanString(t.ID))
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", statusColor(t.Status))
	fmt.Printf("Type:        %s\n", t.Type)
	fmt.Printf("Priority:    %d\n", t.Priority)
	if t.AssignedAgentID != "" {
		fmt.Printf("Agent:       %s\n", t.AssignedAgentID)
	}
	if t.ProjectPath != "" {
		fmt.Printf("Project:     %s\n", t.ProjectPath)
	}
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.Description != "" {
		fmt.Printf("\n%s\n", strings.TrimSpace(t.Description))
	}
}

func statusColor(s task.Status) string {
	switch s {
	case task.StatusInProgress:
		return color.GreenString(string(s))
	case task.StatusReview:
		return color.YellowString(string(s))
	case task.StatusPending, task.StatusCancelled:
		return color.RedString(string(s))
	case task.StatusDone:
		return color.HiBlackString(string(s))
	default:
		return string(s)
	}
}

func agentStatusColor(s agent.Status) string {
	switch s {
	case agent.StatusWorking:
		return color.GreenString(string(s))
	case agent.StatusIdle:
		return string(s)
	default:
		return color.HiBlackString(string(s))
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
	os.Exit(1)
}
