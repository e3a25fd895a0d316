package plugins

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
)

const dateLayout = time.DateOnly

var errInvalidSetting = errors.New("invalid setting")

var (
	attendanceFormRe = regexp.MustCompile(`(?is)GIST\s+HQ.*?Name[:*].*?Relationship[:*]`)
	gistHeaderRe     = regexp.MustCompile(`(?i)GIST\s+HQ`)
	nameLabelRe      = regexp.MustCompile(`(?i)Name[:*]`)
	relationLabelRe  = regexp.MustCompile(`(?i)Relationship[:*]`)
)

type formField struct {
	label string
	re    *regexp.Regexp
}

// Field values run to the end of their line, so an empty field never
// borrows the next line's text.
var formFields = []formField{
	{"👤 Name", regexp.MustCompile(`(?im)\bName[:*]+[ \t]*(.*)$`)},
	{"🌍 Location", regexp.MustCompile(`(?im)\bLocation[:*]+[ \t]*(.*)$`)},
	{"⌚ Time", regexp.MustCompile(`(?im)\bTime[:*]+[ \t]*(.*)$`)},
	{"🌥 Weather", regexp.MustCompile(`(?im)\bWeather[:*]+[ \t]*(.*)$`)},
	{"❤️‍🔥 Mood", regexp.MustCompile(`(?im)\bMood[:*]+[ \t]*(.*)$`)},
	{"🗓 D.O.B", regexp.MustCompile(`(?im)\bD\.O\.B[:*]+[ \t]*(.*)$`)},
	{"👩‍❤️‍👨 Relationship", regexp.MustCompile(`(?im)\bRelationship[:*]+[ \t]*(.*)$`)},
}

var wakeUpFields = []struct {
	label string
	re    *regexp.Regexp
}{
	{"1:", regexp.MustCompile(`(?m)^[^\w\n]*1:[ \t]*(.*)$`)},
	{"2:", regexp.MustCompile(`(?m)^[^\w\n]*2:[ \t]*(.*)$`)},
	{"3:", regexp.MustCompile(`(?m)^[^\w\n]*3:[ \t]*(.*)$`)},
}

// FormValidation is the outcome of checking one attendance form.
type FormValidation struct {
	// Structured is false when the text does not look like a form at all.
	Structured bool
	Valid      bool
	Missing    []string
	HasWakeUps bool
	HasImage   bool
}

// IsAttendanceForm reports whether body looks like a GIST HQ form.
func IsAttendanceForm(body string) bool {
	return attendanceFormRe.MatchString(body)
}

func fieldFilled(re *regexp.Regexp, body string, minLen int) bool {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return false
	}
	v := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_"))
	return v != "" && len([]rune(v)) >= minLen
}

// ValidateForm checks that every field of the form has content.
func ValidateForm(body string, hasImage bool, rules settings.Attendance) FormValidation {
	v := FormValidation{HasImage: hasImage}
	if !gistHeaderRe.MatchString(body) || !nameLabelRe.MatchString(body) || !relationLabelRe.MatchString(body) {
		return v
	}
	v.Structured = true
	if rules.RequireImage && !hasImage {
		v.Missing = append(v.Missing, "📸 Image (required)")
	}
	for _, f := range formFields {
		if !fieldFilled(f.re, body, rules.MinFieldLength) {
			v.Missing = append(v.Missing, f.label)
		}
	}
	var missingWakeUps []string
	for _, f := range wakeUpFields {
		if !fieldFilled(f.re, body, rules.MinFieldLength) {
			missingWakeUps = append(missingWakeUps, f.label)
		}
	}
	if len(missingWakeUps) > 0 {
		v.Missing = append(v.Missing, fmt.Sprintf("🔔 Wake up members (%s)", strings.Join(missingWakeUps, ", ")))
	} else {
		v.HasWakeUps = true
	}
	v.Valid = len(v.Missing) == 0
	return v
}

// AttendanceRecord is one user's record in the attendance collection.
// Dates are UTC calendar days.
type AttendanceRecord struct {
	LastAttendance   string `json:"last_attendance,omitempty" bson:"last_attendance,omitempty"`
	TotalAttendances int    `json:"total_attendances" bson:"total_attendances"`
	Streak           int    `json:"streak" bson:"streak"`
	LongestStreak    int    `json:"longest_streak" bson:"longest_streak"`
}

func (r AttendanceRecord) MarkedOn(day time.Time) bool {
	return r.LastAttendance == day.UTC().Format(dateLayout)
}

// AdvanceStreak returns the streak after attending on day: attending the
// day after the last attendance continues it, attending again the same day
// leaves it unchanged, anything else starts over at 1.
func AdvanceStreak(r AttendanceRecord, day time.Time) AttendanceRecord {
	today := day.UTC().Format(dateLayout)
	yesterday := day.UTC().AddDate(0, 0, -1).Format(dateLayout)
	switch r.LastAttendance {
	case yesterday:
		r.Streak++
	case today:
	default:
		r.Streak = 1
	}
	r.LongestStreak = max(r.LongestStreak, r.Streak)
	return r
}

// Reward computes the attendance payout.
func Reward(rules settings.Attendance, hasImage bool, streak int) int64 {
	reward := int64(rules.RewardAmount)
	if hasImage && rules.ImageRewardBonus > 0 {
		reward += int64(rules.ImageRewardBonus)
	}
	if rules.EnableStreakBonus && streak >= 3 {
		reward = int64(math.Floor(float64(reward) * rules.StreakBonusMultiplier))
	}
	return reward
}

// Ledger serializes attendance record updates.
type Ledger struct {
	store store.Store
	mu    sync.Mutex
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

func (l *Ledger) Record(ctx context.Context, number string) (AttendanceRecord, error) {
	var r AttendanceRecord
	_, err := l.store.Get(ctx, store.Attendance, number, &r)
	return r, err
}

// Mark records attendance on day. It reports false without changing
// anything when the user already attended that day.
func (l *Ledger) Mark(ctx context.Context, number string, day time.Time) (AttendanceRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.Record(ctx, number)
	if err != nil {
		return r, false, fmt.Errorf("failed to load attendance: %w", err)
	}
	if r.MarkedOn(day) {
		return r, false, nil
	}
	r = AdvanceStreak(r, day)
	r.LastAttendance = day.UTC().Format(dateLayout)
	r.TotalAttendances++
	if err = l.store.Set(ctx, store.Attendance, number, r); err != nil {
		return r, false, fmt.Errorf("failed to save attendance: %w", err)
	}
	return r, true, nil
}

func imageStatus(hasImage, required bool) string {
	switch {
	case required && !hasImage:
		return "❌ Image required but not found"
	case hasImage:
		return "📸 Image detected ✅"
	default:
		return "📸 No image (optional)"
	}
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func (p *plugins) attendanceBindings() []command.Binding {
	return []command.Binding{
		{Trigger: command.OnBody, Handler: p.detectAttendance},
		{Pattern: "attendance", Desc: "Check your attendance statistics", Category: CategoryAttendance, Handler: p.attendanceStats},
		{Pattern: "attendancesettings", Desc: "Configure attendance settings (admin only)", Category: CategoryAttendance, Handler: p.attendanceSettings},
		{Pattern: "testattendance", Desc: "Test attendance form validation", Category: CategoryAttendance, Handler: p.testAttendance},
	}
}

func (p *plugins) detectAttendance(ctx context.Context, req *command.Request) error {
	mc := req.Context
	if mc.IsCommand || !IsAttendanceForm(mc.Body) {
		return nil
	}
	rules := req.Settings.Attendance
	now := p.now()
	rec, err := p.attendance.Record(ctx, mc.SenderNumber)
	if err != nil {
		return err
	}
	if rec.MarkedOn(now) {
		req.Reply(ctx, "📝 You've already marked your attendance today! Come back tomorrow.")
		return nil
	}

	hasImage := mc.HasImage()
	v := ValidateForm(mc.Body, hasImage, rules)
	if !v.Valid {
		var sb strings.Builder
		sb.WriteString("📋 *INCOMPLETE ATTENDANCE FORM* 📋\n\n❌ Please complete the following fields:\n\n")
		for i, f := range v.Missing {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, f)
		}
		sb.WriteString("\n💡 *Please fill out all required fields and try again.*\n📝 Make sure to:\n")
		sb.WriteString("• Fill your personal details completely\n• Wake up 3 members (1:, 2:, 3:)\n")
		if rules.RequireImage {
			sb.WriteString("• Include an image with your attendance\n")
		}
		sb.WriteString("• Don't leave any field empty\n\n✨ *Complete the form properly to mark your attendance!*")
		req.Reply(ctx, sb.String())
		return nil
	}

	rec, marked, err := p.attendance.Mark(ctx, mc.SenderNumber, now)
	if err != nil {
		return err
	} else if !marked {
		req.Reply(ctx, "📝 You've already marked your attendance today! Come back tomorrow.")
		return nil
	}

	reward := Reward(rules, hasImage, rec.Streak)
	rewardLine := fmt.Sprintf("💸 Reward: %s", naira(reward))
	var bonuses []string
	if hasImage && rules.ImageRewardBonus > 0 {
		bonuses = append(bonuses, fmt.Sprintf("+%s image bonus", naira(int64(rules.ImageRewardBonus))))
	}
	if rules.EnableStreakBonus && rec.Streak >= 3 {
		bonuses = append(bonuses, fmt.Sprintf("%d%% streak bonus", int(math.Floor((rules.StreakBonusMultiplier-1)*100))))
	}
	if len(bonuses) > 0 {
		rewardLine += " (" + strings.Join(bonuses, ", ") + ")"
	}
	if _, err = p.bank.Credit(ctx, mc.SenderNumber, reward); err != nil {
		req.Log.Warn().Err(err).Int64("reward", reward).Msg("Failed to credit attendance reward")
		rewardLine = "💸 Reward system not available"
	}
	req.Log.Info().Int("streak", rec.Streak).Int64("reward", reward).Msg("Attendance approved")

	req.Reply(ctx, fmt.Sprintf("✅ *ATTENDANCE APPROVED!* ✅\n\n📋 Form completed successfully!\n%s\n%s\n"+
		"🔥 Current streak: %d days\n📊 Total attendances: %d\n🏆 Longest streak: %d days\n\n"+
		"🎉 *Thank you for your consistent participation!*\n🧾 *Keep it up!*",
		imageStatus(hasImage, rules.RequireImage), rewardLine, rec.Streak, rec.TotalAttendances, rec.LongestStreak))
	return nil
}

func (p *plugins) attendanceStats(ctx context.Context, req *command.Request) error {
	rec, err := p.attendance.Record(ctx, req.Context.SenderNumber)
	if err != nil {
		return err
	}
	last := rec.LastAttendance
	if last == "" {
		last = "Never"
	}
	var sb strings.Builder
	sb.WriteString("📊 *YOUR ATTENDANCE STATS* 📊\n\n")
	fmt.Fprintf(&sb, "📅 Last attendance: %s\n", last)
	fmt.Fprintf(&sb, "📋 Total attendances: %d\n", rec.TotalAttendances)
	fmt.Fprintf(&sb, "🔥 Current streak: %d days\n", rec.Streak)
	fmt.Fprintf(&sb, "🏆 Longest streak: %d days\n", rec.LongestStreak)
	fmt.Fprintf(&sb, "✅ Today's status: %s\n", yesNo(rec.MarkedOn(p.now()), "Marked ✅", "Not marked ❌"))
	fmt.Fprintf(&sb, "📸 Image required: %s\n\n", yesNo(req.Settings.Attendance.RequireImage, "Yes", "No"))
	switch {
	case rec.Streak >= 7:
		fmt.Fprintf(&sb, "🌟 *Amazing! You're on fire with a %d-day streak!*", rec.Streak)
	case rec.Streak >= 3:
		sb.WriteString("🔥 *Great job! Keep the streak going!*")
	default:
		sb.WriteString("💪 *Mark your attendance daily to build a streak!*")
	}
	req.Reply(ctx, sb.String())
	return nil
}

func attendanceSettingsText(a settings.Attendance, prefix string) string {
	var sb strings.Builder
	sb.WriteString("⚙️ *ATTENDANCE SETTINGS* ⚙️\n\n")
	fmt.Fprintf(&sb, "💰 Reward Amount: %s\n", naira(int64(a.RewardAmount)))
	fmt.Fprintf(&sb, "📸 Require Image: %s\n", yesNo(a.RequireImage, "Yes ✅", "No ❌"))
	fmt.Fprintf(&sb, "💎 Image Bonus: %s\n", naira(int64(a.ImageRewardBonus)))
	fmt.Fprintf(&sb, "📏 Min Field Length: %d\n", a.MinFieldLength)
	fmt.Fprintf(&sb, "🔥 Streak Bonus: %s\n", yesNo(a.EnableStreakBonus, "Enabled ✅", "Disabled ❌"))
	fmt.Fprintf(&sb, "📈 Streak Multiplier: %gx\n\n", a.StreakBonusMultiplier)
	sb.WriteString("*📋 Usage Commands:*\n")
	for _, usage := range []string{"reward 1000", "image on/off", "imagebonus 200", "streak on/off", "multiplier 2.0", "minlength 3"} {
		fmt.Fprintf(&sb, "• `%sattendancesettings %s`\n", prefix, usage)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// applyAttendanceSetting changes one attendance rule. The returned message
// is shown to the user either way.
func applyAttendanceSetting(a *settings.Attendance, key, value string) (string, error) {
	switch key {
	case "reward", "imagebonus", "minlength":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Sprintf("⚠️ Invalid value. Use: attendancesettings %s <number>", key), errInvalidSetting
		}
		switch key {
		case "reward":
			a.RewardAmount = n
			return fmt.Sprintf("✅ Attendance reward set to %s", naira(int64(n))), nil
		case "imagebonus":
			a.ImageRewardBonus = n
			return fmt.Sprintf("✅ Image bonus reward set to %s", naira(int64(n))), nil
		default:
			a.MinFieldLength = n
			return fmt.Sprintf("✅ Minimum field length set to %d characters", n), nil
		}
	case "image", "streak":
		on, ok := parseSwitch(value)
		if !ok {
			return fmt.Sprintf("⚠️ Invalid value. Use: attendancesettings %s on/off", key), errInvalidSetting
		}
		if key == "image" {
			a.RequireImage = on
			return yesNo(on, "✅ Image requirement enabled 📸", "✅ Image requirement disabled"), nil
		}
		a.EnableStreakBonus = on
		return yesNo(on, "✅ Streak bonus enabled 🔥", "✅ Streak bonus disabled"), nil
	case "multiplier":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 1 || math.IsInf(f, 0) {
			return "⚠️ Invalid multiplier value. Use: attendancesettings multiplier 1.5", errInvalidSetting
		}
		a.StreakBonusMultiplier = f
		return fmt.Sprintf("✅ Streak multiplier set to %gx", f), nil
	}
	return "⚠️ Unknown setting. Available options:\n• reward\n• image\n• imagebonus\n• streak\n• multiplier\n• minlength", errInvalidSetting
}

func (p *plugins) attendanceSettings(ctx context.Context, req *command.Request) error {
	mc := req.Context
	if !mc.IsAdmin && !p.privileged(ctx, req) {
		req.Reply(ctx, "🚫 Only admins can use this command.")
		return nil
	}
	if len(mc.Args) == 0 {
		req.Reply(ctx, attendanceSettingsText(req.Settings.Attendance, req.Settings.Prefix))
		return nil
	}
	key := strings.ToLower(mc.Args[0])
	value := ""
	if len(mc.Args) > 1 {
		value = mc.Args[1]
	}
	var msg string
	_, err := p.Settings.Update(ctx, func(s *settings.Settings) error {
		var err error
		msg, err = applyAttendanceSetting(&s.Attendance, key, value)
		return err
	})
	if err != nil && msg == "" {
		msg = "⚠️ " + err.Error()
	}
	req.Reply(ctx, msg)
	return nil
}

func (p *plugins) testAttendance(ctx context.Context, req *command.Request) error {
	text := rawText(req)
	if text == "" {
		req.Reply(ctx, fmt.Sprintf("🔍 *Attendance Form Test*\n\nUsage: %stestattendance [paste your attendance form]\n\n"+
			"This will validate your form without submitting it.\n\n"+
			"📸 *Image Detection:* Include an image with your test message to test image detection.", req.Settings.Prefix))
		return nil
	}
	rules := req.Settings.Attendance
	hasImage := req.Context.HasImage()
	check := func(ok bool) string { return yesNo(ok, "✅", "❌") }

	var sb strings.Builder
	sb.WriteString("🔍 *Form Detection Results:*\n\n")
	fmt.Fprintf(&sb, "📋 GIST HQ header: %s\n", check(gistHeaderRe.MatchString(text)))
	fmt.Fprintf(&sb, "👤 Name field: %s\n", check(nameLabelRe.MatchString(text)))
	fmt.Fprintf(&sb, "👩‍❤️‍👨 Relationship field: %s\n", check(relationLabelRe.MatchString(text)))
	fmt.Fprintf(&sb, "📸 Image detected: %s\n", check(hasImage))
	fmt.Fprintf(&sb, "📸 Image required: %s\n\n", yesNo(rules.RequireImage, "Yes", "No"))

	v := ValidateForm(text, hasImage, rules)
	if !v.Structured {
		sb.WriteString("❌ *Form structure not detected*\nMake sure you're using the correct GIST HQ attendance format.")
		req.Reply(ctx, sb.String())
		return nil
	}
	sb.WriteString("🎉 *Form structure detected!*\n\n📝 *Validation Results:*\n")
	fmt.Fprintf(&sb, "✅ Form complete: %s\n", yesNo(v.Valid, "YES", "NO"))
	fmt.Fprintf(&sb, "📸 Image status: %s\n", imageStatus(hasImage, rules.RequireImage))
	if v.Valid {
		fmt.Fprintf(&sb, "🎉 *Ready to submit!*\n💰 *Potential reward: %s*", naira(Reward(rules, hasImage, 0)))
	} else {
		fmt.Fprintf(&sb, "❌ Missing fields (%d):\n", len(v.Missing))
		for i, f := range v.Missing {
			fmt.Fprintf(&sb, "   %d. %s\n", i+1, f)
		}
	}
	req.Reply(ctx, strings.TrimSuffix(sb.String(), "\n"))
	return nil
}
