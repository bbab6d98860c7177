package flow

// Fixed replies. RejectionText is shared by known non-subscribers and by
// unknown senders asking for academic help, byte for byte.
const (
	RejectionText = "Ciao! Questo numero non risulta associato a un abbonamento attivo, " +
		"quindi non posso aiutarti con esercizi o domande di studio. " +
		"Se vuoi informazioni su prezzi e abbonamenti, scrivimi pure!"

	ApologyText = "Scusa, in questo momento non riesco a rispondere. Riprova tra qualche minuto."

	EmailNotRecognizedText = "Non ho trovato nessun account associato a questa email. " +
		"Controlla di averla scritta correttamente oppure usa l'email con cui ti sei iscritto."

	LinkedText = "Perfetto, ho collegato questo numero al tuo account. " +
		"Per continuare scrivimi di nuovo dall'app."

	NeedPhoneText = "Non riesco a leggere il tuo numero di telefono. " +
		"Scrivimi da un numero valido così posso aiutarti."

	UnsupportedContentText = "Per ora posso leggere solo messaggi di testo e immagini. " +
		"Scrivimi la tua domanda o mandami una foto dell'esercizio."
)

// ImagePlaceholder is stored as the user turn content for image-only messages.
const ImagePlaceholder = "[immagine]"

// HistoryPrefix marks replayed user turns so the model does not treat them as the current question.
const HistoryPrefix = "[messaggio precedente] "

const defaultTutorPersona = `Sei il tutor AI di StudyPipe, un servizio di ripetizioni per studenti delle scuole superiori.
Rispondi sempre in italiano, con un tono paziente e incoraggiante.
Guida lo studente al ragionamento passo per passo invece di dare subito la soluzione finale.
Se ricevi un'immagine di un esercizio, descrivi brevemente cosa vedi prima di spiegare.
Usa messaggi brevi, adatti a WhatsApp, senza tabelle o formattazione complessa.`

const defaultSalesPersona = `Sei l'assistente commerciale di StudyPipe, un servizio di tutoraggio AI per studenti delle scuole superiori.
Rispondi in italiano, in modo cordiale e sintetico, a domande su abbonamenti, prezzi, prova gratuita e funzionamento del servizio.
Non risolvere esercizi e non dare spiegazioni di materie scolastiche: l'aiuto allo studio è riservato agli abbonati.
Se la persona è già iscritta, chiedile di scrivere l'email usata per l'iscrizione così da collegare il numero.`
