package handlers

import (
	"errors"
	"fmt"
	"time"

	"crisisfeed/models"
	"crisisfeed/utils"

	"github.com/gofrs/uuid/v5"
)

func describe(field string, err error) string {
	switch {
	case errors.Is(err, utils.ErrEmpty):
		return field + " cannot be empty"
	case errors.Is(err, utils.ErrTooLong):
		max := utils.MaxContent
		if field == "author" {
			max = utils.MaxNickname
		}
		return fmt.Sprintf("%s cannot be longer than %d characters", field, max)
	}
	return err.Error()
}

// ValidatePost checks an incoming row and fills in server-side defaults.
// It returns the field errors and false when the row is rejected.
func ValidatePost(p *models.Post, now time.Time) (map[string]string, bool) {
	errs := make(map[string]string)

	if _, err := uuid.FromString(p.ID); err != nil {
		errs["id"] = "id must be a UUID"
	}
	if author, err := utils.NormalizeNickname(p.Author); err != nil {
		errs["author"] = describe("author", err)
	} else {
		p.Author = author
	}
	if content, err := utils.NormalizeContent(p.Content); err != nil {
		errs["content"] = describe("content", err)
	} else {
		p.Content = content
	}
	p.AuthorRole = p.AuthorRole.Normalize()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Likes == nil {
		p.Likes = models.Likes{}
	}
	if p.Comments == nil {
		p.Comments = []models.Comment{}
	}
	for k, v := range ValidateComments(p.Comments) {
		errs[k] = v
	}

	if len(errs) > 0 {
		return errs, false
	}
	return nil, true
}

// ValidateComments checks a whole replacement comment list.
func ValidateComments(comments []models.Comment) map[string]string {
	errs := make(map[string]string)
	seen := make(map[string]bool, len(comments))
	for i, c := range comments {
		key := fmt.Sprintf("comments[%d]", i)
		if _, err := uuid.FromString(c.ID); err != nil {
			errs[key+".id"] = "id must be a UUID"
		} else if seen[c.ID] {
			errs[key+".id"] = "duplicate comment id"
		}
		seen[c.ID] = true
		if _, err := utils.NormalizeNickname(c.Author); err != nil {
			errs[key+".author"] = describe("author", err)
		}
		if _, err := utils.NormalizeContent(c.Content); err != nil {
			errs[key+".content"] = describe("content", err)
		}
	}
	return errs
}
