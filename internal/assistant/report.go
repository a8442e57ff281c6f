package assistant

import (
	"fmt"
	"strings"

	"github.com/mbd888/dojo/internal/roster"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// Money formats d as Brazilian reais, e.g. "R$ 1.234,50".
func Money(d decimal.Decimal) string {
	return "R$ " + ptBR.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

func names(students []*roster.Student) string {
	if len(students) == 0 {
		return "Nenhum"
	}
	out := make([]string, len(students))
	for i, st := range students {
		out[i] = st.FullName
	}
	return strings.Join(out, ", ")
}

// BuildReport renders the analysis as the plain-text report handed to the
// LLM and logged by the daily sweep.
func BuildReport(a *Analysis) string {
	var b strings.Builder
	b.WriteString("## Relatório de Status e Ações Sugeridas\n\n")

	b.WriteString("### 1. Inadimplência\n")
	if len(a.Overdue) == 0 {
		b.WriteString("Nenhum aluno inadimplente.\n")
	}
	for _, o := range a.Overdue {
		fmt.Fprintf(&b, "- %s: %s em %d fatura(s), vencida desde %s\n",
			o.Student.FullName, Money(o.Amount), o.Invoices, o.OldestDue.Format("02/01/2006"))
	}
	fmt.Fprintf(&b, "Total vencido: %s\n", Money(a.OverdueTotal))

	b.WriteString("\n### 2. Alunos com Baixa Frequência\n")
	if len(a.LowFrequency) == 0 {
		b.WriteString("Nenhum aluno com baixa frequência.\n")
	}
	for _, lf := range a.LowFrequency {
		fmt.Fprintf(&b, "- %s (%d presença(s) em %d dias)\n", lf.Student.FullName, lf.Count, FrequencyWindow)
	}

	fmt.Fprintf(&b, "\n### 3. Novos Alunos (últimos %d dias)\n", NewStudentWindow)
	if len(a.NewStudents) == 0 {
		fmt.Fprintf(&b, "Nenhum novo aluno nos últimos %d dias.\n", NewStudentWindow)
	}
	for _, st := range a.NewStudents {
		fmt.Fprintf(&b, "- %s (matriculado em %s)\n", st.FullName, st.EnrolledOn.Format("02/01/2006"))
	}

	b.WriteString("\n### 4. Financeiro\n")
	fmt.Fprintf(&b, "- Faturamento do mês atual: %s\n", Money(a.RevenueThisMonth))
	fmt.Fprintf(&b, "- Faturamento do mês passado (%s a %s): %s\n",
		a.LastMonthFrom.Format("02/01"), a.LastMonthTo.Format("02/01"), Money(a.RevenueLastMonth))
	fmt.Fprintf(&b, "- Novas assinaturas no mês passado: %d\n", a.NewSubscriptions)

	b.WriteString("\n### 5. Informações Gerais\n")
	fmt.Fprintf(&b, "- Academia: %s\n", a.Academy)
	fmt.Fprintf(&b, "- Data da análise: %s\n", a.Date.Format("02/01/2006"))
	fmt.Fprintf(&b, "- Alunos ativos: %d, inativos: %d\n", a.ActiveStudents, a.InactiveStudents)
	fmt.Fprintf(&b, "- Alunos ativos sem assinatura: %d\n", len(a.WithoutPlan))
	fmt.Fprintf(&b, "- Sem presença há mais de %d dias: %s\n", AbsentDays, names(a.Absent))
	return b.String()
}

// Bulletin renders the daily summary shown when the chat opens.
func Bulletin(a *Analysis) string {
	overdue := make([]*roster.Student, len(a.Overdue))
	for i, o := range a.Overdue {
		overdue[i] = o.Student
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Boletim Diário - %s*\n\n", a.Date.Format("02/01/2006"))
	fmt.Fprintf(&b, "Olá, equipe da %s!\n\n", a.Academy)
	fmt.Fprintf(&b, "*Resumo Financeiro (Mês Passado):* faturamento de %s e %d nova(s) assinatura(s).\n",
		Money(a.RevenueLastMonth), a.NewSubscriptions)
	fmt.Fprintf(&b, "*Situação Atual:* o faturamento este mês está em %s e a inadimplência total é de %s.\n",
		Money(a.RevenueThisMonth), Money(a.OverdueTotal))
	fmt.Fprintf(&b, "*Quadro de Alunos:* %d alunos ativos e %d inativos.\n", a.ActiveStudents, a.InactiveStudents)
	b.WriteString("*Pontos de Atenção:*\n")
	fmt.Fprintf(&b, "- %d aluno(s) inadimplente(s): %s.\n", len(overdue), names(overdue))
	fmt.Fprintf(&b, "- %d aluno(s) ativo(s) sem assinatura ativa.\n", len(a.WithoutPlan))
	fmt.Fprintf(&b, "- %d aluno(s) sem presença há mais de %d dias: %s.\n", len(a.Absent), AbsentDays, names(a.Absent))
	return b.String()
}
