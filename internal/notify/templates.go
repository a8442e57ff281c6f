package notify

import (
	"fmt"
	"strings"
	"time"
)

// Message bodies. Students are addressed by first name; WhatsApp renders
// *text* as bold.

func WelcomeMessage(academy, firstName string) string {
	return fmt.Sprintf("Seja muito bem-vindo(a) à %s, %s! 🎉 Estamos muito felizes em ter você no nosso time. Bons treinos!",
		academy, firstName)
}

func OverdueMessage(academy, firstName string) string {
	return fmt.Sprintf("Olá %s! Passando para lembrar que sua mensalidade na %s está em aberto. Se precisar de ajuda, é só chamar! 😊",
		firstName, academy)
}

func LowAttendanceMessage(academy, firstName string) string {
	return fmt.Sprintf("Olá %s, tudo bem? Sentimos sua falta nos treinos da %s! 💪 Esperamos te ver em breve!",
		firstName, academy)
}

func ExamInviteMessage(firstName, rank, discipline string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s! 🥋\n\n", firstName)
	fmt.Fprintf(&b, "Temos uma ótima notícia! Você foi selecionado(a) para o exame de graduação para *%s*", rank)
	if discipline != "" {
		fmt.Fprintf(&b, " de %s", discipline)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "O exame será no dia %s.\n", at.Format("02/01/2006 às 15:04"))
	b.WriteString("Por favor, confirme sua presença na recepção da academia.\n\nParabéns pela indicação! Oss!")
	return b.String()
}

func ExamPassedMessage(academy, firstName, rank string) string {
	return fmt.Sprintf("🎉 Parabéns, %s! 🎉\n\nÉ com grande orgulho que a %s informa que você foi *APROVADO(A)* no exame de graduação!\n\n"+
		"Sua nova graduação é *%s*.\n\nContinue se dedicando nos treinos. Oss!",
		firstName, academy, rank)
}

func ExamFailedMessage(firstName, feedback string) string {
	return fmt.Sprintf("Olá %s. Passando para dar o feedback do seu exame de graduação.\n\n"+
		"Desta vez não foi possível a aprovação, mas isso faz parte da jornada. Continue treinando com foco nos pontos abaixo!\n\n"+
		"*Pontos a melhorar:*\n%s\n\nConverse com seu professor. Estamos aqui para te ajudar a evoluir! Oss!",
		firstName, strings.TrimSpace(feedback))
}
