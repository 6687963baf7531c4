package profile

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/educhain/educhain/core"
)

var (
	institutionRequiredTag  = "institution_required"
	institutionRequiredText = "school managers must belong to an institution"

	institutionForbiddenTag  = "institution_forbidden"
	institutionForbiddenText = "foundation managers cannot belong to an institution"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to profile attributes"
)

// InitValidators registers the profile validations on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(profileStructValidation, NewProfile{}, UpdateProfile{})

	core.RegisterCustomTranslation(validate, translator, institutionRequiredTag, institutionRequiredText)
	core.RegisterCustomTranslation(validate, translator, institutionForbiddenTag, institutionForbiddenText)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

// profileStructValidation does struct level validation on NewProfile and UpdateProfile structs.
func profileStructValidation(sl validator.StructLevel) {
	switch p := sl.Current().Interface().(type) {
	case NewProfile:
		validateRoleInstitution(p, sl)
		validatePassword(p.Password, p.Name, p.Email, sl)
	case UpdateProfile:
		if p.Password != "" {
			validatePassword(p.Password, p.Name, p.email, sl)
		}
	}
}

// validateRoleInstitution checks that school managers, and only them, are attached to an institution.
func validateRoleInstitution(np NewProfile, sl validator.StructLevel) {
	switch {
	case np.Role == RoleSchoolManager && np.InstitutionID == "":
		sl.ReportError(np.InstitutionID, "institution_id", "InstitutionID", institutionRequiredTag, "")
	case np.Role == RoleFoundationManager && np.InstitutionID != "":
		sl.ReportError(np.InstitutionID, "institution_id", "InstitutionID", institutionForbiddenTag, "")
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no profile attrs similarity
func validatePassword(pwd, name, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}
	if tag := passwordPolicyViolation(pwd, name, email); tag != "" {
		reportErr(tag)
	}
}

// passwordPolicyViolation returns the tag of the first rule pwd breaks, or "".
func passwordPolicyViolation(pwd, name, email string) string {
	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		return pwdMinLenTag
	}
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == pwdLen {
		return pwdNotAllNumTag
	}

	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		return pwdComplexityTag
	}

	getRatio := func(pass, attr string) float64 {
		if attr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
	}
	if getRatio(pwd, name) >= pwdMaxSim || getRatio(pwd, email) >= pwdMaxSim {
		return pwdAttrSimTag
	}
	return ""
}

// CheckPasswordPolicy returns a ValidationError when pwd breaks the password policy. Used outside of struct validation, e.g. by the admin CLI.
func CheckPasswordPolicy(pwd, name, email string) error {
	texts := map[string]string{
		pwdMinLenTag:     pwdMinLenText,
		pwdNoSpaceTag:    pwdNoSpaceText,
		pwdNotAllNumTag:  pwdNotAllNumText,
		pwdComplexityTag: pwdComplexityText,
		pwdAttrSimTag:    pwdAttrSimText,
	}
	if tag := passwordPolicyViolation(pwd, name, email); tag != "" {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: texts[tag]})
	}
	return nil
}
