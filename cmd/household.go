package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/formatter"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

// UserCreate registers a user.
func (r *Runner) UserCreate(ctx context.Context, cmd *cli.Command) error {
	user, err := r.services.Users.CreateUser(ctx, cmd.String("email"), cmd.String("name"), cmd.String("password"))
	if err != nil {
		return err
	}
	return r.emit(cmd, user, func() error {
		r.writePlain("✓ Created user %s\n", user.Name)
		return r.writeUser(user)
	})
}

// UserShow looks a user up by --user or --email.
func (r *Runner) UserShow(ctx context.Context, cmd *cli.Command) error {
	var (
		user *models.User
		err  error
	)
	switch {
	case cmd.String("user") != "":
		user, err = r.services.Users.GetUser(ctx, cmd.String("user"))
	case cmd.String("email") != "":
		user, err = r.services.Users.GetUserByEmail(ctx, cmd.String("email"))
	default:
		return fmt.Errorf("%w: --user or --email", shared.ErrMissingArgument)
	}
	if err != nil {
		return err
	}
	return r.emit(cmd, user, func() error { return r.writeUser(user) })
}

func (r *Runner) writeUser(user *models.User) error {
	r.writePlain("ID:     %s\n", user.ID)
	r.writePlain("Name:   %s\n", user.Name)
	r.writePlain("Email:  %s\n", user.Email)
	family := user.FamilyID
	if family == "" {
		family = "(none)"
	}
	return r.writePlain("Family: %s\n", family)
}

func (r *Runner) UserDelete(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.Users.DeleteUser(ctx, cmd.String("user")); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted user %s\n", cmd.String("user"))
}

func (r *Runner) UserJoin(ctx context.Context, cmd *cli.Command) error {
	family, err := r.services.Users.JoinFamily(ctx, cmd.String("user"), cmd.String("code"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Joined %s (%s)\n", family.Name, family.ID)
}

func (r *Runner) UserLeave(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.Users.LeaveFamily(ctx, cmd.String("user")); err != nil {
		return err
	}
	return r.writePlain("✓ Left family\n")
}

// FamilyCreate creates a family and its default device group.
func (r *Runner) FamilyCreate(ctx context.Context, cmd *cli.Command) error {
	family, err := r.services.Families.CreateFamily(ctx, cmd.String("user"), cmd.String("name"))
	if err != nil {
		return err
	}
	return r.emit(cmd, family, func() error {
		r.writePlain("✓ Created family %s\n", family.Name)
		return r.writePlain("ID: %s\n", family.ID)
	})
}

// FamilyShow prints a family with its owner and chat model.
func (r *Runner) FamilyShow(ctx context.Context, cmd *cli.Command) error {
	family, err := r.services.Families.GetFamily(ctx, cmd.String("family"))
	if err != nil {
		return err
	}

	model, err := r.services.Families.GetFamilyChatModel(ctx, family.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	return r.emit(cmd, family, func() error {
		r.writePlainHeader(family.Name)
		r.writePlain("ID:         %s\n", family.ID)
		r.writePlain("Owner:      %s\n", family.OwnerID)
		if family.InviteCode != "" {
			r.writePlain("Invite:     %s\n", family.InviteCode)
		}
		if model != nil {
			r.writePlain("Chat model: %s (%s)\n", model.Name, model.Key)
		}
		return nil
	})
}

func (r *Runner) FamilyUpdate(ctx context.Context, cmd *cli.Command) error {
	update := services.FamilyUpdate{Name: cmd.String("name"), ChatModelKey: cmd.String("model")}
	if update.Name == "" && update.ChatModelKey == "" {
		return fmt.Errorf("%w: --name or --model", shared.ErrMissingArgument)
	}

	family, err := r.services.Families.UpdateFamily(ctx, cmd.String("family"), update)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Updated family %s\n", family.Name)
}

func (r *Runner) FamilyDelete(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.Families.DeleteFamily(ctx, cmd.String("family")); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted family %s\n", cmd.String("family"))
}

// FamilyInvite prints a fresh invite code.
func (r *Runner) FamilyInvite(ctx context.Context, cmd *cli.Command) error {
	code, err := r.services.Families.CreateFamilyInviteCode(ctx, cmd.String("family"))
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", code)
}

func (r *Runner) FamilyUninvite(ctx context.Context, cmd *cli.Command) error {
	if err := r.services.Families.DeleteFamilyInviteCode(ctx, cmd.String("family")); err != nil {
		return err
	}
	return r.writePlain("✓ Invite code revoked\n")
}

func (r *Runner) FamilyTransfer(ctx context.Context, cmd *cli.Command) error {
	family, err := r.services.Families.TransferFamilyOwnership(ctx, cmd.String("family"), cmd.String("to"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s is now owned by %s\n", family.Name, family.OwnerID)
}

func (r *Runner) FamilyMembers(ctx context.Context, cmd *cli.Command) error {
	users, err := r.services.Families.ListFamilyUsers(ctx, cmd.String("family"))
	if err != nil {
		return err
	}
	return r.emit(cmd, users, func() error {
		r.writePlain("Found %d members:\n\n", len(users))
		for i, u := range users {
			r.writePlain("%d. %s <%s>\n", i+1, u.Name, u.Email)
			r.writePlain("   ID: %s\n", u.ID)
		}
		return nil
	})
}

// FamilyDevices prints the device status overview: groups, then devices in no group.
func (r *Runner) FamilyDevices(ctx context.Context, cmd *cli.Command) error {
	overview, err := r.services.DeviceStatus.GetOverviewDeviceStatus(ctx, cmd.String("family"))
	if err != nil {
		return err
	}
	return r.emit(cmd, overview, func() error {
		return formatter.WriteOverview(r.output, overview)
	})
}

func (r *Runner) FamilyGroups(ctx context.Context, cmd *cli.Command) error {
	groups, err := r.services.Families.ListFamilyDeviceGroups(ctx, cmd.String("family"))
	if err != nil {
		return err
	}

	statuses := make([]models.DeviceGroupStatus, 0, len(groups))
	for _, g := range groups {
		status, err := r.services.DeviceStatus.GetDeviceGroupStatus(ctx, g.ID)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}
	return r.emit(cmd, statuses, func() error {
		return r.writePlain("%s\n", formatter.GroupTable(statuses))
	})
}
