package comments

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/commentary/internal/spam"
	"github.com/go-playground/validator/v10"
)

const (
	minAuthorLength      = 2
	maxAuthorLength      = 100
	minTextLength        = 10
	maxTextLength        = 2000
	maxHomePageLength    = 512
	maxDescriptionLength = 500
	maxOriginalName      = 255
	maxAttachments       = 5
	maxImageBytes        = 5 * 512 * 1024
	maxTextFileBytes     = 100 * 1024
)

var (
	authorPattern = regexp.MustCompile(`^[\p{L}\p{N}]+$`)
	fieldChecker  = validator.New(validator.WithRequiredStructEnabled())

	imageContentTypes = map[string]struct{}{
		"image/jpeg": {},
		"image/png":  {},
		"image/gif":  {},
	}
)

// submission is a CreateRequest after normalization.
type submission struct {
	author   string
	email    string
	homePage string
	text     string
	parentID string
}

func (s *Service) validateSubmission(request CreateRequest) (submission, error) {
	author := strings.TrimSpace(request.AuthorName)
	authorLength := utf8.RuneCountInString(author)
	if authorLength < minAuthorLength || authorLength > maxAuthorLength {
		return submission{}, invalid("author_name", "must be 2 to 100 characters")
	}
	if !authorPattern.MatchString(author) {
		return submission{}, invalid("author_name", "must contain only letters and digits")
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))
	if err := fieldChecker.Var(email, "required,email,max=320"); err != nil {
		return submission{}, invalid("email", "must be a valid email address")
	}

	homePage := strings.TrimSpace(request.HomePage)
	if homePage != "" {
		if err := validateHomePage(homePage); err != nil {
			return submission{}, err
		}
	}

	text := strings.TrimSpace(request.Text)
	textLength := utf8.RuneCountInString(text)
	if textLength < minTextLength || textLength > maxTextLength {
		return submission{}, invalid("text", "must be 10 to 2000 characters")
	}
	if spam.MatchesRejectPattern(s.sanitizer.StripAll(text)) {
		return submission{}, invalid("text", "appears to contain spam content")
	}

	if err := validateAttachments(request.Attachments); err != nil {
		return submission{}, err
	}

	return submission{
		author:   author,
		email:    email,
		homePage: homePage,
		text:     text,
		parentID: strings.TrimSpace(request.ParentID),
	}, nil
}

func validateHomePage(homePage string) error {
	if len(homePage) > maxHomePageLength {
		return invalid("home_page", "is too long")
	}
	if err := fieldChecker.Var(homePage, "url"); err != nil {
		return invalid("home_page", "must be a valid URL")
	}
	parsed, err := url.Parse(homePage)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return invalid("home_page", "must be an http or https URL")
	}
	return nil
}

func validateAttachments(inputs []AttachmentInput) error {
	if len(inputs) > maxAttachments {
		return invalid("attachments", "too many attachments")
	}
	for _, input := range inputs {
		name := strings.TrimSpace(input.OriginalName)
		if name == "" || utf8.RuneCountInString(name) > maxOriginalName {
			return invalid("attachments", "file name must be 1 to 255 characters")
		}
		if strings.TrimSpace(input.StorageKey) == "" {
			return invalid("attachments", "storage key is required")
		}
		if input.SizeBytes <= 0 {
			return invalid("attachments", "file is empty")
		}
		switch input.Kind {
		case AttachmentImage:
			if _, ok := imageContentTypes[strings.ToLower(input.ContentType)]; !ok {
				return invalid("attachments", "images must be jpeg, png or gif")
			}
			if input.SizeBytes > maxImageBytes {
				return invalid("attachments", "image exceeds 2.5 MiB")
			}
		case AttachmentText:
			if strings.ToLower(path.Ext(name)) != ".txt" {
				return invalid("attachments", "text files must have a .txt extension")
			}
			if input.SizeBytes > maxTextFileBytes {
				return invalid("attachments", "text file exceeds 100 KiB")
			}
		default:
			return invalid("attachments", "unknown attachment kind")
		}
	}
	return nil
}

func validateReport(request ReportRequest) (ReportRequest, error) {
	normalized := ReportRequest{
		CommentID:       strings.TrimSpace(request.CommentID),
		Reason:          ReportReason(strings.ToLower(strings.TrimSpace(string(request.Reason)))),
		Description:     strings.TrimSpace(request.Description),
		ReporterContact: strings.ToLower(strings.TrimSpace(request.ReporterContact)),
		ReporterIP:      strings.TrimSpace(request.ReporterIP),
	}
	if !normalized.Reason.Valid() {
		return ReportRequest{}, invalid("reason", "must be one of spam, offensive, inappropriate, off_topic, other")
	}
	if utf8.RuneCountInString(normalized.Description) > maxDescriptionLength {
		return ReportRequest{}, invalid("description", "must be at most 500 characters")
	}
	if normalized.ReporterContact != "" {
		if err := fieldChecker.Var(normalized.ReporterContact, "email,max=320"); err != nil {
			return ReportRequest{}, invalid("reporter_contact", "must be a valid email address")
		}
	}
	return normalized, nil
}
