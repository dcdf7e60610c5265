package bootstrap

import (
	// 内置节点注册到 node.Default()
	_ "nodeforge/internal/domain/chatflow/node/agent"
	_ "nodeforge/internal/domain/chatflow/node/cache"
	_ "nodeforge/internal/domain/chatflow/node/chain"
	_ "nodeforge/internal/domain/chatflow/node/chatmodel"
	_ "nodeforge/internal/domain/chatflow/node/embeddings"
	_ "nodeforge/internal/domain/chatflow/node/loader"
	_ "nodeforge/internal/domain/chatflow/node/memory"
	_ "nodeforge/internal/domain/chatflow/node/prompt"
	_ "nodeforge/internal/domain/chatflow/node/splitter"
	_ "nodeforge/internal/domain/chatflow/node/tools"
	_ "nodeforge/internal/domain/chatflow/node/vectorstore"
)
