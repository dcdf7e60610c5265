package node

// 内置凭据类型
func init() {
	for _, s := range []*CredentialSchema{
		{
			Name:   "openAIApi",
			Label:  "OpenAI API",
			Inputs: []InputParam{{Label: "OpenAI Api Key", Name: "openAIApiKey", Type: "password"}},
		},
		{
			Name:   "anthropicApi",
			Label:  "Anthropic API",
			Inputs: []InputParam{{Label: "Anthropic Api Key", Name: "anthropicApiKey", Type: "password"}},
		},
		{
			Name:   "googleGenerativeAI",
			Label:  "Google Generative AI",
			Inputs: []InputParam{{Label: "Google AI API Key", Name: "googleGenerativeAPIKey", Type: "password"}},
		},
		{
			Name:  "openSearchUrl",
			Label: "OpenSearch",
			Inputs: []InputParam{
				{Label: "OpenSearch Url", Name: "openSearchUrl", Type: "string"},
				{Label: "User", Name: "user", Type: "string", Optional: true},
				{Label: "Password", Name: "password", Type: "password", Optional: true},
			},
		},
		{
			Name:   "redisCacheUrlApi",
			Label:  "Redis URL",
			Inputs: []InputParam{{Label: "Redis URL", Name: "redisUrl", Type: "password", Default: "redis://localhost:6379"}},
		},
		{
			Name:  "tencentCloudApi",
			Label: "Tencent Cloud API",
			Inputs: []InputParam{
				{Label: "Secret Id", Name: "secretId", Type: "string"},
				{Label: "Secret Key", Name: "secretKey", Type: "password"},
			},
		},
		{
			Name:  "httpBearerToken",
			Label: "HTTP Bearer Token",
			Inputs: []InputParam{
				{Label: "Token", Name: "token", Type: "password"},
			},
		},
	} {
		RegisterCredential(s)
	}
}
