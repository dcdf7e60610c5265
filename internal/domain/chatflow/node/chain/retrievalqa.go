package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/node/prompt"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
)

func init() {
	node.Register(&retrievalQAPlugin{})
}

var defaultRephrasePrompt = heredoc.Doc(`
	Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question.

	Chat History:
	{chat_history}
	Follow Up Input: {question}
	Standalone Question:`)

var defaultResponsePrompt = heredoc.Doc(`
	I want you to act as a document that I am having a conversation with. Your name is "AI Assistant".
	Using the provided context, answer the user's question to the best of your ability using the resources provided.
	If there is nothing in the context relevant to the question at hand, just say "Hmm, I'm not sure" and stop after that.
	Refuse to answer any question not about the info. Never break character.
	------------
	{context}
	------------
	REMEMBER: If there is no relevant information within the context, just say "Hmm, I'm not sure". Don't try to make up an answer. Never break character.`)

// retrievalQAChain 先把追问改写为独立问题，检索文档后基于上下文作答
type retrievalQAChain struct {
	model         node.ChatModel
	retriever     node.Retriever
	memory        node.Memory
	rephrase      *prompt.Template
	response      *prompt.Template
	returnSources bool
}

func (c *retrievalQAChain) standalone(ctx context.Context, history []types.HistoryMessage, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	text, err := c.rephrase.Format(map[string]string{
		"chat_history": types.FormatHistory(history),
		"question":     question,
	})
	if err != nil {
		return "", fmt.Errorf("format rephrase prompt: %w", err)
	}
	resp, err := c.model.Generate(ctx, []provider.Message{{Role: provider.RoleUser, Content: text}}, nil)
	if err != nil {
		return "", fmt.Errorf("rephrase question: %w", err)
	}
	if s := strings.TrimSpace(resp.Content); s != "" {
		return s, nil
	}
	return question, nil
}

func (c *retrievalQAChain) Run(ctx context.Context, in *node.RunInput) (*node.RunOutput, error) {
	history, err := node.LoadHistory(ctx, c.memory, in)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	query, err := c.standalone(ctx, history, in.Question)
	if err != nil {
		return nil, err
	}

	docs, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	applog.Debug("[Chain/RetrievalQA] Retrieved", "query", query, "documents", len(docs))

	contexts := make([]string, 0, len(docs))
	for _, d := range docs {
		contexts = append(contexts, d.PageContent)
	}
	system, err := c.response.Format(map[string]string{
		"context":      strings.Join(contexts, "\n\n"),
		"question":     in.Question,
		"chat_history": types.FormatHistory(history),
	})
	if err != nil {
		return nil, fmt.Errorf("format response prompt: %w", err)
	}

	msgs := []provider.Message{{Role: provider.RoleSystem, Content: system}}
	msgs = append(msgs, node.HistoryToMessages(history)...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: in.Question})

	resp, err := node.Call(ctx, c.model, msgs, nil, in.Sink)
	if err != nil {
		return nil, err
	}
	if err := node.SaveTurn(ctx, c.memory, in, resp.Content); err != nil {
		applog.Warn("[Chain/RetrievalQA] Save memory failed", "chat_id", in.ChatID, "error", err)
	}

	out := &node.RunOutput{Text: resp.Content}
	if c.returnSources {
		out.SourceDocuments = docs
	}
	return out, nil
}

type retrievalQAPlugin struct{}

func (p *retrievalQAPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "conversationalRetrievalQAChain",
		Label:       "Conversational Retrieval QA Chain",
		Version:     1,
		Type:        "ConversationalRetrievalQAChain",
		Icon:        "qa.svg",
		Category:    string(types.CategoryChains),
		Description: "Document QA - built on RetrievalQAChain to provide a chat history component",
		BaseClasses: append([]string{"ConversationalRetrievalQAChain"}, chainClasses...),
		Inputs: []node.InputParam{
			{Label: "Chat Model", Name: "model", Type: "BaseChatModel"},
			{Label: "Vector Store Retriever", Name: "vectorStoreRetriever", Type: "BaseRetriever"},
			{Label: "Memory", Name: "memory", Type: "BaseMemory", Optional: true,
				Description: "If left empty, a default BufferMemory will be used"},
			{Label: "Return Source Documents", Name: "returnSourceDocuments", Type: "boolean", Optional: true},
			{Label: "Rephrase Prompt", Name: "rephrasePrompt", Type: "string", Rows: 4, Optional: true, Additional: true,
				Description: "Using previous chat history, rephrase question into a standalone question",
				Default:     defaultRephrasePrompt},
			{Label: "Response Prompt", Name: "responsePrompt", Type: "string", Rows: 4, Optional: true, Additional: true,
				Description: "Taking the rephrased question, search for answer from the provided context",
				Default:     defaultResponsePrompt},
		},
		Streamable: true,
	}
}

func (p *retrievalQAPlugin) Init(_ context.Context, data *node.NodeData, _ *node.InitOptions) (any, error) {
	model, err := node.GetInstance[node.ChatModel](data, "model")
	if err != nil {
		return nil, err
	}
	retriever, err := node.GetInstance[node.Retriever](data, "vectorStoreRetriever")
	if err != nil {
		return nil, err
	}

	rephraseText := node.GetString(data, "rephrasePrompt")
	if rephraseText == "" {
		rephraseText = defaultRephrasePrompt
	}
	responseText := node.GetString(data, "responsePrompt")
	if responseText == "" {
		responseText = defaultResponsePrompt
	}
	rephrase, err := prompt.NewTemplate(rephraseText, nil)
	if err != nil {
		return nil, fmt.Errorf("node %s: invalid rephrase prompt: %w", data.ID, err)
	}
	response, err := prompt.NewTemplate(responseText, nil)
	if err != nil {
		return nil, fmt.Errorf("node %s: invalid response prompt: %w", data.ID, err)
	}

	c := &retrievalQAChain{
		model:         model,
		retriever:     retriever,
		rephrase:      rephrase,
		response:      response,
		returnSources: node.GetBool(data, "returnSourceDocuments", false),
	}
	if m, ok := node.GetOptionalInstance[node.Memory](data, "memory"); ok {
		c.memory = m
	}
	return c, nil
}
