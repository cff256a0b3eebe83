package filter

// BackupDirName is the engine's own output directory, always pruned
const BackupDirName = ".JugaadBKP"

// alwaysPruned directories are skipped silently, without a skipped-log entry
var alwaysPruned = map[string]bool{
	BackupDirName:  true,
	".jugaad_venv": true,
}

// DefaultIgnorePatterns are gitignore-style patterns applied to every scan
var DefaultIgnorePatterns = []string{
	"*.pyc", "__pycache__/", ".ipynb_checkpoints/", ".pytest_cache/",
	".venv/", "venv/", "env/", "node_modules/", "target/", "build/", "dist/", "out/",
	".git/", ".hg/", ".svn/", ".idea/", ".vscode/", ".terraform/", "cdktf.out/",
	"*.log", "*.tmp", "*.temp", "*.bak", "*.swp", "*.exe", "*.dll", "*.so", "*.dylib", "*.o",
	".DS_Store", ".env", "*.env", "*.iml", "thumbs.db",
	"LICENSE", "LICENSE.txt", "README.md", "README.rst",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", ".jugaad_venv/",
}

// IncludedExtensions is the allow-list. Entries starting with "." match as a
// case-insensitive suffix; other entries match the exact basename.
var IncludedExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".vue", ".svelte",
	".java", ".kt", ".scala", ".go", ".rs", ".rb", ".php", ".swift",
	".c", ".cpp", ".h", ".hpp", ".cs", ".m", ".mm",
	".html", ".htm", ".css", ".scss", ".sass", ".less",
	".json", ".yaml", ".yml", ".xml", ".toml", ".ini", ".conf", ".cfg",
	".md", ".rst", ".txt", ".sh", ".bash", ".zsh", ".ps1", ".bat",
	".tf", ".hcl", ".sql", ".prisma", ".graphql", ".gql", ".dockerfile",
	"Dockerfile", "Makefile", "Jenkinsfile", "package.json", "go.mod",
	"Cargo.toml", "pyproject.toml", "requirements.txt", "main.tf",
	"variables.tf", "outputs.tf",
}

// SensitiveIndicators flag .gitignore entries that likely protect secrets
var SensitiveIndicators = []string{
	".env", "secret", "key", "credential", "password", "api_key", "token", "auth", "private",
}
