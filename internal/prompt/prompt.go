// Package prompt provides the interactive terminal surface for the
// peer client: credential entry, invite consent, peer selection, and
// move input.
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/arcadenet/lanlobby/internal/game"
	"github.com/arcadenet/lanlobby/internal/rendezvous"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	cellStyleX = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))

	cellStyleO = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75"))

	resultStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("120"))
)

// Prompter asks the local player questions. When stdin is not a
// terminal it falls back to plain line-based input so the client stays
// scriptable.
type Prompter struct {
	theme       *huh.Theme
	interactive bool
	reader      *bufio.Reader
}

// New creates a prompter, detecting whether stdin is a terminal.
func New() *Prompter {
	return &Prompter{
		theme:       huh.ThemeDracula(),
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		reader:      bufio.NewReader(os.Stdin),
	}
}

// PrintBanner prints the client banner.
func (p *Prompter) PrintBanner() {
	banner := bannerStyle.Render(`
  _        _    _   _   _          _     _
 | |      / \  | \ | | | |    ___ | |__ | |__  _   _
 | |     / _ \ |  \| | | |   / _ \| '_ \| '_ \| | | |
 | |___ / ___ \| |\  | | |__| (_) | |_) | |_) | |_| |
 |_____/_/   \_\_| \_| |_____\___/|_.__/|_.__/ \__, |
                                               |___/
`)
	subtitle := subtitleStyle.Render("  Peer matchmaking over a shared directory\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

// Credentials asks for the account to use and whether to register it
// first.
func (p *Prompter) Credentials() (username, credential string, register bool, err error) {
	if !p.interactive {
		return "", "", false, fmt.Errorf("credentials required: use --username and --credential")
	}

	action := "login"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Account").
				Options(
					huh.NewOption("Log in with an existing account", "login"),
					huh.NewOption("Register a new account", "register"),
				).
				Value(&action),

			huh.NewInput().
				Title("Username").
				Value(&username).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("username is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Credential").
				EchoMode(huh.EchoModePassword).
				Value(&credential).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("credential is required")
					}
					return nil
				}),
		),
	).WithTheme(p.theme)

	if err := form.Run(); err != nil {
		return "", "", false, err
	}
	return username, credential, action == "register", nil
}

// ConfirmInvite asks whether to accept an invite from the named
// account. Non-interactive sessions accept automatically.
func (p *Prompter) ConfirmInvite(inviter string) bool {
	if !p.interactive {
		fmt.Printf("Auto-accepting invite from %s\n", inviter)
		return true
	}

	accept := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s wants to play. Accept?", inviter)).
				Affirmative("Accept").
				Negative("Decline").
				Value(&accept),
		),
	).WithTheme(p.theme)

	if err := form.Run(); err != nil {
		return false
	}
	return accept
}

// SelectPeer picks one peer from the discovery result. A single peer
// or a non-interactive session short-circuits to the first entry.
func (p *Prompter) SelectPeer(peers []rendezvous.Peer) (int, error) {
	if len(peers) == 1 || !p.interactive {
		fmt.Printf("Inviting %s\n", peers[0])
		return 0, nil
	}

	var opts []huh.Option[int]
	for i, peer := range peers {
		opts = append(opts, huh.NewOption(peer.String(), i))
	}

	idx := 0
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Available peers").
				Options(opts...).
				Value(&idx),
		),
	).WithTheme(p.theme)

	if err := form.Run(); err != nil {
		return 0, err
	}
	return idx, nil
}

// Move asks for the local player's move on the given board.
func (p *Prompter) Move(board game.Board, mark string) (int, error) {
	if !p.interactive {
		return p.readMoveLine(board)
	}

	var raw string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Your move as %s (0-8)", mark)).
				Value(&raw).
				Validate(func(s string) error {
					pos, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil {
						return fmt.Errorf("enter a number from 0 to 8")
					}
					if !board.Open(pos) {
						return fmt.Errorf("position %d is taken or out of range", pos)
					}
					return nil
				}),
		),
	).WithTheme(p.theme)

	if err := form.Run(); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

// readMoveLine reads moves from plain stdin until a valid one arrives.
func (p *Prompter) readMoveLine(board game.Board) (int, error) {
	for {
		fmt.Print("Your move (0-8): ")
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		pos, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || !board.Open(pos) {
			continue
		}
		return pos, nil
	}
}

// PrintBoard renders the board as a bordered grid.
func (p *Prompter) PrintBoard(board game.Board) {
	var rows []string
	for r := 0; r < 3; r++ {
		var cells []string
		for c := 0; c < 3; c++ {
			cells = append(cells, renderCell(board[3*r+c]))
		}
		rows = append(rows, strings.Join(cells, " "))
	}
	fmt.Println(boardStyle.Render(strings.Join(rows, "\n")))
}

func renderCell(mark string) string {
	switch mark {
	case game.MarkX:
		return cellStyleX.Render(mark)
	case game.MarkO:
		return cellStyleO.Render(mark)
	default:
		return "."
	}
}

// PrintResult prints the game outcome.
func (p *Prompter) PrintResult(text string) {
	fmt.Println(resultStyle.Render(text))
}
