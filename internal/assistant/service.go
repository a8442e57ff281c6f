package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/billing"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/validation"
)

// InitialSummary is the question the chat widget sends when it opens.
const InitialSummary = "__INITIAL_SUMMARY__"

// ErrLLMNotConfigured is returned by Narrative when no LLM is wired.
var ErrLLMNotConfigured = errors.New("assistant: llm not configured")

// Suggestions are the canned questions offered next to the chat.
var Suggestions = []string{
	"Quem são os alunos inadimplentes?",
	"Qual o aluno mais faltoso?",
	"Listar meus planos",
	"Quantos alunos ativos tenho?",
	"Qual o nível de inadimplência?",
	"Detalhes do aluno João Silva",
	"Histórico de pagamentos do aluno Maria Santos",
}

const (
	fallbackNoLLM = "Ainda não sei responder a essa pergunta. Tente uma das sugestões abaixo."
	fallbackError = "Desculpe, não consegui processar sua pergunta agora. Por favor, tente novamente."

	narrativePrompt = `Você é um assistente especializado em gestão de academias de artes marciais.

Analise o relatório abaixo e forneça:
1. Um resumo executivo dos pontos principais
2. Recomendações específicas para melhorar a gestão
3. Alertas sobre situações que precisam de atenção imediata
4. Sugestões de ações para reter alunos e melhorar a frequência

Relatório:
%s

Responda de forma clara, objetiva e em português brasileiro.`

	questionPrompt = `Você é um assistente virtual de gestão da academia de artes marciais %s.
Use apenas os dados do relatório abaixo quando a pergunta for sobre a academia.

%s

Pergunta: %s

Responda de forma cordial, profissional e em português brasileiro.`

	bulletinPrompt = `Reescreva o boletim abaixo em tom cordial e motivador, mantendo todos os números e nomes.
Termine oferecendo ajuda.

%s`
)

// Reply is an answer plus the suggestion menu.
type Reply struct {
	Answer      string   `json:"answer"`
	Route       string   `json:"route"`
	Suggestions []string `json:"suggestions"`
}

// Service answers staff questions about one academy.
type Service struct {
	billing    Billing
	roster     Roster
	attendance Attendance
	academies  Academies
	llm        LLM
	clock      clock.Clock
}

// NewService creates an assistant. Without WithLLM, unmatched questions get
// a fixed fallback sentence.
func NewService(b Billing, r Roster, att Attendance, academies Academies, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{billing: b, roster: r, attendance: att, academies: academies, clock: clk}
}

// WithLLM routes unmatched questions and narratives through llm.
func (s *Service) WithLLM(llm LLM) *Service {
	s.llm = llm
	return s
}

func containsAny(q string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// Route names the keyword route a question takes, or "llm".
func Route(question string) string {
	if question == InitialSummary {
		return "summary"
	}
	q := validation.Fold(question)
	switch {
	case containsAny(q, "valor", "total", "nivel") && containsAny(q, "inadimpl", "atras", "devendo"):
		return "overdue_total"
	case containsAny(q, "inadimpl", "devendo", "atrasad"):
		return "overdue_students"
	case containsAny(q, "faltoso", "frequencia", "presenca"):
		return "least_attending"
	case containsAny(q, "quantos alunos", "total de alunos"):
		return "student_count"
	case strings.Contains(q, "planos"):
		return "plans"
	case strings.Contains(q, "historico de pagamento"):
		return "payment_history"
	case containsAny(q, "detalhes do aluno", "detalhes da aluna", "dados do aluno", "dados da aluna"):
		return "student_details"
	}
	return "llm"
}

// Answer replies to a question from the data layer when a keyword route
// matches and from the LLM otherwise. LLM failures become a fallback
// sentence; only data-layer errors are returned.
func (s *Service) Answer(ctx context.Context, academyID, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	route := Route(question)
	metrics.AssistantQuestionsTotal.WithLabelValues(route).Inc()
	today := clock.Today(s.clock)

	var answer string
	var err error
	switch route {
	case "summary":
		answer, err = s.summary(ctx, academyID, today)
	case "overdue_total":
		answer, err = s.overdueTotal(ctx, academyID, today)
	case "overdue_students":
		answer, err = s.overdueStudents(ctx, academyID, today)
	case "least_attending":
		answer, err = s.leastAttending(ctx, academyID, today)
	case "student_count":
		answer, err = s.studentCount(ctx, academyID)
	case "plans":
		answer, err = s.plans(ctx, academyID)
	case "payment_history":
		answer, err = s.paymentHistory(ctx, academyID, question)
	case "student_details":
		answer, err = s.studentDetails(ctx, academyID, question)
	default:
		answer, err = s.ask(ctx, academyID, question, today)
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Answer: answer, Route: route, Suggestions: Suggestions}, nil
}

func (s *Service) academyName(ctx context.Context, academyID string) (string, error) {
	a, err := s.academies.Get(ctx, academyID)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}

func (s *Service) summary(ctx context.Context, academyID string, today time.Time) (string, error) {
	a, err := s.Analyze(ctx, academyID, today)
	if err != nil {
		return "", err
	}
	bulletin := Bulletin(a)
	if s.llm == nil {
		return bulletin, nil
	}
	text, err := s.llm.Generate(ctx, fmt.Sprintf(bulletinPrompt, bulletin), 0.7)
	if err != nil {
		logging.L(ctx).Warn("assistant: bulletin rewrite failed", "academy_id", academyID, "error", err)
		return bulletin, nil
	}
	return text, nil
}

func (s *Service) overdueTotal(ctx context.Context, academyID string, today time.Time) (string, error) {
	name, err := s.academyName(ctx, academyID)
	if err != nil {
		return "", err
	}
	total, err := s.billing.OverdueTotal(ctx, academyID, today)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("O valor total de faturas vencidas e não pagas na %s é de %s.", name, Money(total)), nil
}

func (s *Service) overdueStudents(ctx context.Context, academyID string, today time.Time) (string, error) {
	name, err := s.academyName(ctx, academyID)
	if err != nil {
		return "", err
	}
	overdue, err := s.billing.OverdueStudents(ctx, academyID, today)
	if err != nil {
		return "", err
	}
	if len(overdue) == 0 {
		return fmt.Sprintf("Ótima notícia! Não há alunos inadimplentes na %s.", name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Alunos inadimplentes na %s:\n", name)
	for _, o := range overdue {
		fmt.Fprintf(&b, "\n• %s (%s)", o.Student.FullName, Money(o.Amount))
	}
	return b.String(), nil
}

func (s *Service) leastAttending(ctx context.Context, academyID string, today time.Time) (string, error) {
	a, err := s.Analyze(ctx, academyID, today)
	if err != nil {
		return "", err
	}
	if a.LeastAttending == nil {
		return "Não há alunos ativos cadastrados.", nil
	}
	return fmt.Sprintf("O aluno com menos presenças nos últimos %d dias é %s, com %d presença(s).",
		FrequencyWindow, a.LeastAttending.Student.FullName, a.LeastAttending.Count), nil
}

func (s *Service) studentCount(ctx context.Context, academyID string) (string, error) {
	name, err := s.academyName(ctx, academyID)
	if err != nil {
		return "", err
	}
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{})
	if err != nil {
		return "", err
	}
	active := 0
	for _, st := range students {
		if st.Active {
			active++
		}
	}
	return fmt.Sprintf("Na %s você tem:\n• %d alunos ativos\n• %d alunos inativos\n• Total: %d alunos",
		name, active, len(students)-active, len(students)), nil
}

func (s *Service) plans(ctx context.Context, academyID string) (string, error) {
	name, err := s.academyName(ctx, academyID)
	if err != nil {
		return "", err
	}
	plans, err := s.billing.ListPlans(ctx, academyID)
	if err != nil {
		return "", err
	}
	if len(plans) == 0 {
		return "Nenhum plano cadastrado ainda.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Planos disponíveis na %s:\n", name)
	for _, p := range plans {
		fmt.Fprintf(&b, "\n• %s: %s", p.Name, Money(p.Price))
	}
	return b.String(), nil
}

// studentFromQuestion finds the student named after "aluno"/"aluna" in
// the question. The second return value is a reply for the user when the
// name is missing or ambiguous.
func (s *Service) studentFromQuestion(ctx context.Context, academyID, question string) (*roster.Student, string, error) {
	q := validation.Fold(question)
	idx := max(strings.LastIndex(q, "aluno "), strings.LastIndex(q, "aluna "))
	if idx < 0 {
		return nil, "Informe o nome do aluno, por exemplo: \"Detalhes do aluno João Silva\".", nil
	}
	name := strings.Trim(strings.TrimSpace(q[idx+len("aluno "):]), "?.!")
	if name == "" {
		return nil, "Informe o nome do aluno.", nil
	}
	students, err := s.roster.ListStudents(ctx, academyID, roster.StudentFilter{})
	if err != nil {
		return nil, "", err
	}
	var found []*roster.Student
	for _, st := range students {
		if strings.Contains(validation.Fold(st.FullName), name) {
			found = append(found, st)
		}
	}
	switch len(found) {
	case 0:
		return nil, "Aluno não encontrado.", nil
	case 1:
		return found[0], "", nil
	default:
		return nil, "Encontrei mais de um aluno com esse nome. Por favor, seja mais específico.", nil
	}
}

func (s *Service) studentDetails(ctx context.Context, academyID, question string) (string, error) {
	st, msg, err := s.studentFromQuestion(ctx, academyID, question)
	if err != nil || st == nil {
		return msg, err
	}
	plan := "Nenhum"
	sub, err := s.billing.ActiveSubscription(ctx, academyID, st.ID)
	switch {
	case err == nil:
		p, err := s.billing.GetPlan(ctx, academyID, sub.PlanID)
		if err != nil {
			return "", err
		}
		plan = p.Name
	case !errors.Is(err, billing.ErrSubscriptionNotFound):
		return "", err
	}
	status := "Ativo"
	if !st.Active {
		status = "Inativo"
	}
	dueDay := "não definido"
	if st.DueDay != nil {
		dueDay = fmt.Sprintf("%d", *st.DueDay)
	}
	return fmt.Sprintf("%s\n• Contato: %s\n• Status: %s\n• Plano ativo: %s\n• Dia de vencimento: %s",
		st.FullName, st.Contact, status, plan, dueDay), nil
}

var invoiceStatusPT = map[billing.InvoiceStatus]string{
	billing.InvoicePaid:    "paga",
	billing.InvoiceOverdue: "vencida",
	billing.InvoicePending: "pendente",
}

func (s *Service) paymentHistory(ctx context.Context, academyID, question string) (string, error) {
	st, msg, err := s.studentFromQuestion(ctx, academyID, question)
	if err != nil || st == nil {
		return msg, err
	}
	invoices, err := s.billing.ListInvoices(ctx, academyID, billing.InvoiceFilter{StudentID: st.ID})
	if err != nil {
		return "", err
	}
	if len(invoices) == 0 {
		return fmt.Sprintf("Nenhum histórico de faturas encontrado para %s.", st.FullName), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Histórico de faturas de %s:\n", st.FullName)
	for _, inv := range invoices {
		fmt.Fprintf(&b, "\n• %s, venc. %s, %s", Money(inv.Amount), inv.DueDate.Format("02/01/2006"), invoiceStatusPT[inv.Status])
	}
	return b.String(), nil
}

func (s *Service) ask(ctx context.Context, academyID, question string, today time.Time) (string, error) {
	if s.llm == nil {
		return fallbackNoLLM, nil
	}
	a, err := s.Analyze(ctx, academyID, today)
	if err != nil {
		return "", err
	}
	text, err := s.llm.Generate(ctx, fmt.Sprintf(questionPrompt, a.Academy, BuildReport(a), question), 0)
	if err != nil {
		logging.L(ctx).Warn("assistant: llm question failed", "academy_id", academyID, "error", err)
		return fallbackError, nil
	}
	return text, nil
}

// Narrative asks the LLM to comment on the academy's report. Used by the
// daily sweep, which logs the result.
func (s *Service) Narrative(ctx context.Context, academyID string, today time.Time) (string, string, error) {
	a, err := s.Analyze(ctx, academyID, today)
	if err != nil {
		return "", "", err
	}
	report := BuildReport(a)
	if s.llm == nil {
		return report, "", ErrLLMNotConfigured
	}
	text, err := s.llm.Generate(ctx, fmt.Sprintf(narrativePrompt, report), 0.7)
	return report, text, err
}
